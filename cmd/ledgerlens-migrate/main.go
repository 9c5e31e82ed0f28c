package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/ledgerlens/ledgerlens/internal/config"
	feedbackpostgres "github.com/ledgerlens/ledgerlens/internal/feedback/postgres"
	"github.com/ledgerlens/ledgerlens/internal/migrations"
	"github.com/ledgerlens/ledgerlens/internal/observability"
)

func main() {
	direction := flag.String("direction", "up", "up, down or status")
	steps := flag.Int("steps", 0, "migrations to apply or roll back; 0 means all for up and one for down")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.LoadFromEnv("ledgerlens-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := feedbackpostgres.Open(ctx, feedbackpostgres.DBConfig{DSN: cfg.Feedback.DSN, MaxOpenConns: 2})
	if err != nil {
		logger.Error("open feedback database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			logger.Error("migrate up", "applied", applied, "error", err)
			os.Exit(1)
		}
		logger.Info("migrate up complete", "applied", applied)
	case "down":
		rolledBack, err := runner.Down(ctx, db, *steps)
		if err != nil {
			logger.Error("migrate down", "rolled_back", rolledBack, "error", err)
			os.Exit(1)
		}
		logger.Info("migrate down complete", "rolled_back", rolledBack)
	case "status":
		states, err := runner.Status(ctx, db)
		if err != nil {
			logger.Error("migration status", "error", err)
			os.Exit(1)
		}
		printStates(os.Stdout, states)
	default:
		fmt.Fprintf(os.Stderr, "unknown direction %q (want up, down or status)\n", *direction)
		os.Exit(2)
	}
}

func printStates(w io.Writer, states []migrations.State) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, state := range states {
		status := "pending"
		if state.Applied {
			status = "applied"
		}
		_, _ = fmt.Fprintf(tw, "%06d\t%s\t%s\n", state.Version, state.Name, status)
	}
	_ = tw.Flush()
}
