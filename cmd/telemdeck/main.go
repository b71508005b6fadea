package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/telemdeck"
	"github.com/ghalamif/telemdeck/internal/adapters/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "ports":
		err = portsCommand()
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("telemdeck %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to session configuration file (simulator defaults when empty)")
	quiet := fs.Bool("quiet", false, "Do not print batches to stdout")
	level := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*level)

	cfg := telemdeck.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = telemdeck.LoadConfig(*cfgPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	flow, err := telemdeck.ConfFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var outs []telemdeck.StreamOutOption
	if !*quiet {
		p := newPrinter(os.Stdout, cfg.Session.Metrics)
		outs = append(outs, telemdeck.StreamOutCallback("console", p.Print))
	}
	return flow.Run(ctx, outs...)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config/telemdeck.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := telemdeck.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)

	rules, err := telemdeck.LoadRuleConfig(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("rules %s: %w", cfg.Rules.Path, err)
	}
	fmt.Printf("rules %s: %d error codes, %d conditions\n", cfg.Rules.Path, len(rules.ErrorCodes), len(rules.Conditions))
	return nil
}

func portsCommand() error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var snapshotMetrics = []struct{ key, label string }{
	{"telemdeck_lines_received_total", "lines"},
	{"telemdeck_records_data_total", "data"},
	{"telemdeck_records_malformed_total", "bad"},
	{"telemdeck_reconnects_total", "reconnects"},
	{"telemdeck_connection_state", "state"},
	{"telemdeck_active_alerts", "alerts"},
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(snapshotMetrics))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, m := range snapshotMetrics {
			if strings.HasPrefix(line, m.key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, m.key+" %g", &value); err == nil {
					values[m.key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("[" + time.Now().Format(time.RFC3339) + "]")
	for _, m := range snapshotMetrics {
		fmt.Fprintf(&b, " %s=%g", m.label, values[m.key])
	}
	fmt.Println(b.String())
	return nil
}

func printUsage() {
	fmt.Printf(`telemdeck

Usage:
  telemdeck <command> [flags]

Commands:
  run        Connect to the configured source and print every tick
  validate   Load and validate a config file and its rule file
  stats      Poll the Prometheus metrics endpoint and print live counters
  ports      List serial ports visible to the OS

Examples:
  telemdeck run -config ./config/telemdeck.yaml
  telemdeck validate -config ./config/telemdeck.yaml
  telemdeck stats -url http://localhost:9100/metrics -interval 1s
`)
}
