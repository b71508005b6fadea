package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/telemdeck/pkg/telemdeck"
)

func main() {
	// no config file: simulated fuel cell at one line per second
	flow, err := telemdeck.ConfFromConfig(telemdeck.DefaultConfig())
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(b telemdeck.Batch) error {
		rec, ok := b.LatestData()
		if !ok {
			return nil
		}
		fmt.Printf("%s seq=%d Vbat=%s Tfc=%s alerts=%d\n",
			rec.ReceivedAt.Format(time.RFC3339),
			rec.Seq,
			rec.Fields["Vbat"].Format(),
			rec.Fields["Tfc"].Format(),
			len(b.Alerts),
		)
		return nil
	}

	if err := flow.Run(ctx, telemdeck.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("session error: %v", err)
	}
}
