package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"sessiond/internal/agentapi"
	"sessiond/internal/config"
	"sessiond/internal/session"
)

var (
	runModel          string
	runCWD            string
	runPermissionMode string
	runMaxTurns       int
	runNoInput        bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Start a new session and stream it to completion",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runModel, "model", "", "Model id (accepts synthetic -fast suffix)")
	runCmd.Flags().StringVar(&runCWD, "cwd", "", "Working directory for the agent")
	runCmd.Flags().StringVar(&runPermissionMode, "permission-mode", "", "Permission mode forwarded to the agent")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "Turn limit for the session")
	runCmd.Flags().BoolVar(&runNoInput, "no-input", false, "Disable the interactive follow-up loop")
	rootCmd.AddCommand(runCmd)
}

func buildManager(cfg config.Config) (*session.Manager, io.Closer, error) {
	logger := newLogger()
	doc, err := openDoc(cfg)
	if err != nil {
		return nil, nil, err
	}
	client := agentapi.NewCLIClient(cfg.Agent.CLIPath, logger)
	mgr := session.NewManager(client, doc, logger, session.Config{
		IdleTimeout:         time.Duration(cfg.Session.IdleTimeoutMS) * time.Millisecond,
		CommandFetchTimeout: time.Duration(cfg.Session.CommandFetchTimeoutMS) * time.Millisecond,
		DefaultModel:        cfg.Agent.Model,
		MachineID:           cfg.MachineID,
		Projector:           session.ProjectorPolicy{DropToolOnlyMessages: cfg.Session.DropToolOnlyMessages},
	})
	return mgr, doc, nil
}

func resolvePrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if isatty.IsTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("no prompt given; pass it as arguments or pipe it on stdin")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("empty prompt on stdin")
	}
	return prompt, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prompt, err := resolvePrompt(args)
	if err != nil {
		return err
	}
	mgr, closer, err := buildManager(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	opts := session.CreateOptions{
		Prompt:         prompt,
		CWD:            runCWD,
		Model:          runModel,
		PermissionMode: runPermissionMode,
		MaxTurns:       runMaxTurns,
		AllowedTools:   cfg.Agent.AllowedTools,
		SettingSources: cfg.Agent.SettingSources,
	}
	if opts.CWD == "" {
		opts.CWD, _ = os.Getwd()
	}
	return driveSession(cmd.Context(), mgr, func(ctx context.Context) (session.Result, error) {
		return mgr.CreateSession(ctx, opts)
	})
}

// driveSession 前台跑会话，TTY 下同时开一个 readline 循环喂 follow-up
// driveSession runs the attempt in the foreground; on a TTY a readline loop
// feeds follow-up messages until the stream ends or the user quits.
func driveSession(ctx context.Context, mgr *session.Manager, start func(context.Context) (session.Result, error)) error {
	type outcome struct {
		result session.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := start(ctx)
		done <- outcome{result: result, err: err}
	}()

	interactive := !runNoInput && isatty.IsTerminal(os.Stdin.Fd())
	if interactive {
		go followUpLoop(ctx, mgr)
	}

	out := <-done
	if out.err != nil {
		return out.err
	}
	printResult(out.result)
	return nil
}

func followUpLoop(ctx context.Context, mgr *session.Manager) {
	rl, err := readline.NewEx(&readline.Config{Prompt: "> "})
	if err != nil {
		fmt.Fprintf(os.Stderr, "follow-up input unavailable: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			_ = mgr.CloseSession()
			return
		}
		if err != nil {
			return
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "/quit" {
			_ = mgr.CloseSession()
			return
		}
		if err := mgr.SendFollowUp(ctx, text); err != nil {
			if errors.Is(err, session.ErrNotStreaming) {
				return
			}
			fmt.Fprintf(os.Stderr, "send follow-up: %v\n", err)
		}
	}
}

func printResult(res session.Result) {
	fmt.Printf("session:  %s\n", res.SessionID)
	if res.AgentSessionID != "" {
		fmt.Printf("agent id: %s\n", res.AgentSessionID)
	}
	fmt.Printf("status:   %s\n", res.Status)
	if res.Status == "completed" {
		fmt.Printf("cost:     $%.4f\n", res.TotalCostUSD)
		fmt.Printf("duration: %dms\n", res.DurationMS)
		if res.ResultText != "" {
			fmt.Printf("\n%s\n", res.ResultText)
		}
		return
	}
	if res.Error != "" {
		fmt.Printf("error:    %s\n", res.Error)
	}
}
