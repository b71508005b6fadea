package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ghalamif/telemdeck"
)

// printer renders batches as console text.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	metrics []string
}

func newPrinter(w io.Writer, metrics []string) *printer {
	return &printer{w: w, metrics: metrics}
}

func (p *printer) Print(b telemdeck.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out strings.Builder
	for _, e := range b.Events {
		fmt.Fprintf(&out, "%s  status %s\n", e.At.Format("15:04:05"), e.Message)
	}
	for _, rec := range b.Records {
		stamp := rec.ReceivedAt.Format("15:04:05")
		switch rec.Kind {
		case telemdeck.KindData:
			fields := make([]string, 0, len(rec.Keys))
			for _, k := range rec.Keys {
				fields = append(fields, k+"="+rec.Fields[k].Format())
			}
			fmt.Fprintf(&out, "%s  data   %s\n", stamp, strings.Join(fields, " "))
		case telemdeck.KindInfo:
			fmt.Fprintf(&out, "%s  info   %s\n", stamp, rec.Text)
		default:
			fmt.Fprintf(&out, "%s  error  Data in wrong format: %q\n", stamp, rec.Text)
		}
	}

	if b.Count(telemdeck.KindData) > 0 {
		for _, m := range p.metrics {
			fmt.Fprintf(&out, "          %-6s %s\n", m, b.Stats[m])
		}
		for _, a := range b.Alerts {
			line := fmt.Sprintf("          [%s] %s", strings.ToUpper(a.Priority.String()), a.Message)
			if a.Action != "" {
				line += " -> " + a.Action
			}
			out.WriteString(line + "\n")
		}
	} else if b.IdleTicks > 0 && b.IdleTicks%10 == 0 {
		fmt.Fprintf(&out, "%s  no data (%d ticks)\n", b.At.Format("15:04:05"), b.IdleTicks)
	}

	_, err := io.WriteString(p.w, out.String())
	return err
}
