package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/ghalamif/telemdeck/internal/ports"
)

// RunReader moves lines from the transport into the queue until the sequence
// ends or ctx is done. Each line reaches the session log before the consumer
// can see it. Lines that arrive after ctx is done are dropped. sessionLog may
// be nil.
func RunReader(ctx context.Context, lines iter.Seq[string], q ports.LineQueue, sessionLog ports.SessionLog, obs ports.Observability) {
	logFailed := false
	for line := range lines {
		if ctx.Err() != nil {
			return
		}
		if sessionLog != nil {
			if err := sessionLog.Append(line, time.Now()); err != nil {
				// report once per failure streak, the device keeps talking
				if !logFailed {
					obs.LogError("session_log_append_failed", err)
				}
				logFailed = true
			} else {
				logFailed = false
			}
		}
		q.Push(line)
		obs.IncCounter(ports.MetricLinesReceived, 1)
	}
}
