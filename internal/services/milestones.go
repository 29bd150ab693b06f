package services

import (
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/observability"
)

// MilestoneDef is one streak-length threshold and the shields it grants.
type MilestoneDef struct {
	Threshold int
	Shields   int
}

// Milestones is the static grant table, ascending by threshold.
var Milestones = []MilestoneDef{
	{Threshold: 30, Shields: 1},
	{Threshold: 60, Shields: 1},
	{Threshold: 100, Shields: 2},
	{Threshold: 365, Shields: 3},
}

// nextMilestone returns the first threshold above highest.
func nextMilestone(highest int) (int, bool) {
	for _, m := range Milestones {
		if m.Threshold > highest {
			return m.Threshold, true
		}
	}
	return 0, false
}

// grant is the outcome of one grant-policy evaluation.
type grant struct {
	Milestone *Milestone
	Forfeited int
}

// applyGrants marks every threshold in (HighestMilestoneGranted,
// CurrentStreak] as granted and adds their shields up to limit. Shields
// above the cap are forfeited; the milestone is marked regardless.
func applyGrants(l *domain.StreakLedger, limit int) grant {
	earned, highest := 0, 0
	for _, m := range Milestones {
		if m.Threshold > l.HighestMilestoneGranted && m.Threshold <= l.CurrentStreak {
			earned += m.Shields
			highest = m.Threshold
		}
	}
	if highest == 0 {
		return grant{}
	}

	room := limit - l.ShieldsAvailable
	if room < 0 {
		room = 0
	}
	given := earned
	if given > room {
		given = room
	}
	l.ShieldsAvailable += given
	l.HighestMilestoneGranted = highest
	return grant{
		Milestone: &Milestone{Threshold: highest, ShieldsGranted: given},
		Forfeited: earned - given,
	}
}

// grantMilestones runs the policy with the configured cap. Metrics are
// recorded by the caller after commit through recordGrant.
func (s *StreakService) grantMilestones(l *domain.StreakLedger) grant {
	return applyGrants(l, s.rules().ShieldCap)
}

func recordGrant(g grant) {
	if g.Milestone == nil {
		return
	}
	observability.ShieldsGranted.Add(float64(g.Milestone.ShieldsGranted))
	observability.ShieldsForfeited.Add(float64(g.Forfeited))
}
