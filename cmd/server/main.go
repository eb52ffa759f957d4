// Codetutor - conversational programming tutor server
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/codetutor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "codetutor",
	Short:         "Conversational programming tutor backend",
	Long:          "Codetutor routes learner messages to tutoring modes, runs quizzes and reviews code over HTTP and websockets.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides DB_PATH)")
	rootCmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	serveCmd.Flags().String("port", "", "HTTP port (overrides PORT)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		cfg.DBPath = p
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Value.String() != "" {
		cfg.Port = f.Value.String()
	}
	return cfg, nil
}
