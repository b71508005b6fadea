package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/telemdeck"
)

func main() {
	cfg := telemdeck.DefaultConfig()
	cfg.Transport.Sim.Seed = 7

	flow, err := telemdeck.ConfFromConfig(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := telemdeck.NewChannelSink("alerts", 32)
	defer closeBatches()

	go alertWorker(batches)

	if err := flow.Run(ctx, telemdeck.StreamOutSink(sink)); err != nil && err != context.Canceled {
		log.Fatalf("session error: %v", err)
	}
}

func alertWorker(batches <-chan telemdeck.Batch) {
	for b := range batches {
		for _, a := range b.Alerts {
			if a.Priority >= telemdeck.PriorityError {
				fmt.Printf("[%s] %s\n", a.Priority, a.Message)
			}
		}
	}
}
