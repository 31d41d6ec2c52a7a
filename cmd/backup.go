/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/otpgate/apiserver/config"
	"github.com/otpgate/apiserver/internal/backup"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/server"
	"github.com/otpgate/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

var backupPrefix string

// backupCmd exports users and activity records to object storage.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export users and activity records as JSON Lines to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logging.New(cfg.IsDev()).With("component", "backup")
		ctx := cmd.Context()

		stores, err := server.OpenStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer stores.Close(ctx)

		bucket, err := storage.Open(ctx, cfg)
		if err != nil {
			return err
		}

		prefix := cfg.Backup.Prefix
		if backupPrefix != "" {
			prefix = backupPrefix
		}
		res, err := backup.NewExporter(stores.Users, stores.Activity, bucket, prefix, log).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d users and %d activity records to %s/%s\n",
			res.Users, res.Activity, res.Bucket, res.Key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringVar(&backupPrefix, "prefix", "", "object key prefix (overrides BACKUP_PREFIX)")
}
