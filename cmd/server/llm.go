package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/codetutor/internal/llm"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect the configured completion provider",
}

var llmPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send a one-line completion and report latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LLMTimeout)
		defer cancel()

		provider, err := llm.NewProvider(ctx, cfg.LLM, nil)
		if err != nil {
			return fmt.Errorf("initialize provider: %w", err)
		}

		start := time.Now()
		text, err := llm.Complete(llm.WithPurpose(ctx, "ping"), provider,
			"You are a health check.", "Reply with the single word OK.", 16)
		if err != nil {
			return fmt.Errorf("completion failed after %s: %w", time.Since(start).Round(time.Millisecond), err)
		}

		fmt.Printf("Provider:  %s\n", cfg.LLM.Resolved())
		fmt.Printf("Model:     %s\n", provider.ModelID())
		fmt.Printf("Latency:   %s\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Reply:     %s\n", text)
		return nil
	},
}

func init() {
	llmCmd.AddCommand(llmPingCmd)
}
