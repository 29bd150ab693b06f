package services

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	msgStreakDays   = "Your streak is %d days long."
	msgMilestone    = "Milestone %d reached, %d shields added."
	msgMilestoneCap = "Milestone %d reached. You already hold the maximum number of shields."
	msgShieldsLeft  = "Day covered. %d shields left."
)

func init() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(message.Set(language.English, msgStreakDays,
		plural.Selectf(1, "%d",
			"=0", "Claim recorded. No active streak yet.",
			"=1", "Your streak is 1 day long.",
			plural.Other, "Your streak is %[1]d days long.",
		)))
	must(message.Set(language.English, msgMilestone,
		plural.Selectf(2, "%d",
			"=1", "Milestone %[1]d reached, 1 shield added.",
			plural.Other, "Milestone %[1]d reached, %[2]d shields added.",
		)))
	must(message.Set(language.English, msgShieldsLeft,
		plural.Selectf(1, "%d",
			"=0", "Day covered. No shields left.",
			"=1", "Day covered. 1 shield left.",
			plural.Other, "Day covered. %[1]d shields left.",
		)))
}

var printer = message.NewPrinter(language.English)

// claimMessage renders the human summary attached to a claim response.
func claimMessage(streak int, m *Milestone) string {
	out := printer.Sprintf(msgStreakDays, streak)
	if m == nil {
		return out
	}
	if m.ShieldsGranted == 0 {
		return out + " " + printer.Sprintf(msgMilestoneCap, m.Threshold)
	}
	return out + " " + printer.Sprintf(msgMilestone, m.Threshold, m.ShieldsGranted)
}

// freezeMessage renders the summary attached to a freeze response.
func freezeMessage(shieldsLeft int) string {
	return printer.Sprintf(msgShieldsLeft, shieldsLeft)
}
