package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli"

	"unsealer/internal/app"
	"unsealer/internal/config"
)

func serve(c *cli.Context) error {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, stopSignals()...)
	if resumeSignal != nil {
		signal.Notify(sigs, resumeSignal)
	}
	defer signal.Stop(sigs)

	a, err := app.New(c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	reason := app.StopUnknown
wait:
	for {
		select {
		case s := <-sigs:
			if resumeSignal != nil && s == resumeSignal {
				// woken from SIGSTOP or a suspended terminal
				a.Resume()
				continue
			}
			reason = stopReason(s)
			break wait
		case <-a.Done():
			reason = app.StopFatalError
			break wait
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
	}
	return nil
}
