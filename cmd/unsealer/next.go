package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"

	"unsealer/internal/phase"
	"unsealer/internal/schedule"
)

func next(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	at := time.Now().UTC()
	if raw := strings.TrimSpace(c.String("at")); raw != "" {
		if at, err = schedule.ParseInstant(raw); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}
	count := c.Int("count")
	if count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", count)
	}

	sched, err := cfg.Countdown.Schedule()
	if err != nil {
		return err
	}
	targets, err := schedule.Upcoming(sched, at, count)
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "schedule: %s\n", sched)
	for i, t := range targets {
		fmt.Fprintf(out, "%2d  %s  %s\n", i+1, t.Format(time.RFC3339), relative(t, at))
	}
	if len(targets) > 0 {
		d := targets[0].Sub(at)
		if d < 0 {
			d = -d
		}
		fmt.Fprintf(out, "phase: %s\n", phase.Classify(d.Seconds()).Name)
	}
	// A one-shot target never re-seals once reached.
	if !sched.IsRecurring() {
		state := "sealed"
		if !sched.Instant().After(at) {
			state = "unsealed for good"
		}
		fmt.Fprintf(out, "state: %s\n", state)
	}
	return nil
}

func relative(t, from time.Time) string {
	d := t.Sub(from).Round(time.Second)
	if d < 0 {
		return "passed " + (-d).String() + " ago"
	}
	return "in " + d.String()
}
