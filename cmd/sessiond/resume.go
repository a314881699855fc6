package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sessiond/internal/session"
)

var (
	resumeModel          string
	resumeCWD            string
	resumePermissionMode string
	resumeMaxTurns       int
)

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id] [prompt...]",
	Short: "Resume a prior session with a new prompt",
	Long: `Resume appends a new session record carrying forward the prior attempt's
working directory, model and machine id, and reopens the agent stream with a
resume directive. Without a session id, the most recent resumable record is
picked automatically.`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeModel, "model", "", "Model override")
	resumeCmd.Flags().StringVar(&resumeCWD, "cwd", "", "Working directory override")
	resumeCmd.Flags().StringVar(&resumePermissionMode, "permission-mode", "", "Permission mode override")
	resumeCmd.Flags().IntVar(&resumeMaxTurns, "max-turns", 0, "Turn limit override")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, closer, err := buildManager(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	sessionID := ""
	promptArgs := args
	if len(args) > 0 && strings.HasPrefix(args[0], "sess_") {
		sessionID = args[0]
		promptArgs = args[1:]
	}
	if sessionID == "" {
		id, ok := mgr.ShouldResume()
		if !ok {
			return fmt.Errorf("no resumable session found")
		}
		sessionID = id
	}
	prompt, err := resolvePrompt(promptArgs)
	if err != nil {
		return err
	}

	ov := session.Overrides{
		CWD:            resumeCWD,
		Model:          resumeModel,
		PermissionMode: resumePermissionMode,
		MaxTurns:       resumeMaxTurns,
	}
	return driveSession(cmd.Context(), mgr, func(ctx context.Context) (session.Result, error) {
		return mgr.ResumeSession(ctx, sessionID, prompt, ov)
	})
}
