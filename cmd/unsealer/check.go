package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli"

	"unsealer/internal/config"
	"unsealer/internal/schedule"
)

func check(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	sched, err := cfg.Countdown.Schedule()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	target, err := schedule.ResolveNextTarget(sched, now)
	if err != nil {
		return err
	}
	iv, err := cfg.Countdown.Interval()
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "config:   %s\n", c.String("config"))
	fmt.Fprintf(out, "schedule: %s\n", sched)
	fmt.Fprintf(out, "target:   %s (%s)\n", target.Format(time.RFC3339), relative(target, now))
	if sched.IsRecurring() {
		fmt.Fprintf(out, "window:   %s\n", cfg.Countdown.DisplayWindow())
	}
	fmt.Fprintf(out, "tick:     %s\n", iv)
	if cfg.Server.Enabled {
		fmt.Fprintf(out, "server:   %s\n", cfg.Server.ListenAddr())
	} else {
		fmt.Fprintln(out, "server:   disabled")
	}
	if d := cfg.Journal.DriverName(); d != config.JournalNone {
		fmt.Fprintf(out, "journal:  %s %s\n", d, cfg.Journal.Path)
	} else {
		fmt.Fprintln(out, "journal:  disabled")
	}
	if r := cfg.Relay; r.Enabled() {
		if r.MQTT != nil {
			fmt.Fprintf(out, "relay:    mqtt %s\n", r.MQTT.Broker)
		}
		if r.Redis != nil {
			fmt.Fprintf(out, "relay:    redis %s\n", r.Redis.Addr)
		}
	}
	fmt.Fprintln(out, "ok")
	return nil
}
