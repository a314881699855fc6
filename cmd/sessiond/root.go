package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sessiond/internal/config"
	"sessiond/internal/taskdoc"
)

var (
	flagConfig  string
	flagDBPath  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "Drive agent execution sessions against a shared task document",
	Long: `sessiond runs AI-agent execution sessions: it opens a stream against the
agent CLI, projects protocol events into a conversation record, captures
plans and todo lists into a review document, and keeps the task status
consistent across attempts and resumes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config JSON")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Task database path override")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if flagDBPath != "" {
		cfg.Storage.DBPath = flagDBPath
	}
	return cfg, nil
}

func openDoc(cfg config.Config) (*taskdoc.SQLiteDoc, error) {
	doc, err := taskdoc.NewSQLiteDoc(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open task document: %w", err)
	}
	return doc, nil
}
