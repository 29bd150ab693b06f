// Package collab holds thin HTTP clients for the services the streak engine
// consults but does not own: the health-signal lookup and billing.
//
// Both clients are built on hashicorp/go-retryablehttp so transient 5xx
// responses and connection errors are retried with backoff before the
// engine sees a failure.
package collab

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options tune the shared retrying transport.
type Options struct {
	Timeout  time.Duration // per attempt
	RetryMax int
	WaitMin  time.Duration
	WaitMax  time.Duration
	Logger   *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.WaitMin <= 0 {
		o.WaitMin = 100 * time.Millisecond
	}
	if o.WaitMax <= 0 {
		o.WaitMax = 2 * time.Second
	}
	if o.Logger == nil {
		l := log.Logger
		o.Logger = &l
	}
	return o
}

func newRetryClient(o Options) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = o.RetryMax
	rc.RetryWaitMin = o.WaitMin
	rc.RetryWaitMax = o.WaitMax
	rc.HTTPClient = &http.Client{Timeout: o.Timeout}
	rc.Logger = leveled{l: o.Logger.With().Str("component", "collab").Logger()}
	return rc
}

func normalizeBase(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

// leveled adapts zerolog to retryablehttp.LeveledLogger.
type leveled struct{ l zerolog.Logger }

func (z leveled) Error(msg string, kv ...interface{}) { z.l.Error().Fields(kvFields(kv)).Msg(msg) }
func (z leveled) Warn(msg string, kv ...interface{})  { z.l.Warn().Fields(kvFields(kv)).Msg(msg) }
func (z leveled) Info(msg string, kv ...interface{})  { z.l.Debug().Fields(kvFields(kv)).Msg(msg) }
func (z leveled) Debug(msg string, kv ...interface{}) { z.l.Trace().Fields(kvFields(kv)).Msg(msg) }

func kvFields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
