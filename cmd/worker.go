/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/otpgate/apiserver/config"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mailer"
	"github.com/otpgate/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// workerCmd drains the email queue filled by the server when
// EMAIL_TRANSPORT is rabbitmq or pubsub.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Deliver queued OTP emails over SMTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logging.New(cfg.IsDev()).With("component", "worker")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := server.OpenQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		smtp, err := mailer.NewSMTPMailer(cfg.Email)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}

		log.Info(ctx, "consuming", "queue", cfg.Email.Queue, "transport", cfg.Email.Transport)
		err = mailer.Drain(ctx, backend, cfg.Email.Queue, smtp, log)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
