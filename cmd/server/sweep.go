package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/codetutor/internal/retention"
	"github.com/ashureev/codetutor/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete chat sessions idle longer than --max-idle once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		maxIdle, _ := cmd.Flags().GetDuration("max-idle")
		if maxIdle <= 0 {
			maxIdle = cfg.ChatSessionRetention
		}
		if maxIdle <= 0 {
			return fmt.Errorf("retention is disabled: pass --max-idle or set CHAT_SESSION_RETENTION")
		}

		repo, err := store.NewSQLite(cfg.DBPath, cfg.StoreTimeout)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer repo.Close()

		deleted, err := retention.NewSweeper(repo, maxIdle, time.Hour, slog.Default()).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d chat sessions idle longer than %s.\n", deleted, maxIdle)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Duration("max-idle", 0, "Idle age after which a chat session is deleted (defaults to CHAT_SESSION_RETENTION)")
}
