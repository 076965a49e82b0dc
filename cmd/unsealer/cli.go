package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli"

	"unsealer/internal/config"
)

const defaultConfigPath = "./unsealer.yaml"

var (
	configFlag = cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the YAML or JSON config file",
		Value:  defaultConfigPath,
		EnvVar: "UNSEALER_CONFIG",
	}
	envFileFlag = cli.StringFlag{
		Name:  "env-file",
		Usage: "dotenv file loaded before the UNSEALER_* overlay (default: ./.env when present)",
	}
)

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "unsealer"
	app.HelpName = "unsealer"
	app.Usage = "countdown service that unseals a reveal at a scheduled UTC instant"
	app.UsageText = "unsealer <command> [arguments...]"
	app.Version = version
	if commit != "" {
		app.Version += "-" + commit
	}
	app.Writer = out
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the countdown service",
			Flags:  []cli.Flag{configFlag, envFileFlag},
			Action: serve,
		},
		{
			Name:      "next",
			Aliases:   []string{"n"},
			Usage:     "print upcoming targets of the configured schedule",
			UsageText: "unsealer next [--config FILE] [--at RFC3339] [--count N]",
			Flags: []cli.Flag{
				configFlag,
				envFileFlag,
				cli.StringFlag{Name: "at", Usage: "reference instant (default: now)"},
				cli.IntFlag{Name: "count, n", Usage: "number of targets to print", Value: 5},
			},
			Action: next,
		},
		{
			Name:   "check",
			Usage:  "validate the config file and print a summary",
			Flags:  []cli.Flag{configFlag, envFileFlag},
			Action: check,
		},
	}
	return app
}

// loadConfig loads the env file, then parses and validates the config.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfigManager(c.String("config")).Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", c.String("config"), err)
	}
	return cfg, nil
}
