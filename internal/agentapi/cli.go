package agentapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// CLIClient drives an agent CLI speaking the stream-json protocol on stdio.
// CLIClient 通过 stdio 上的 stream-json 协议驱动 agent CLI。
type CLIClient struct {
	path   string
	env    []string
	logger *slog.Logger

	mu           sync.Mutex
	lastCommands []string
}

// NewCLIClient creates a client for the agent binary at path.
func NewCLIClient(path string, logger *slog.Logger) *CLIClient {
	if path == "" {
		path = "claude"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIClient{path: path, logger: logger}
}

// SetEnv overrides the child process environment (nil inherits the parent's).
func (c *CLIClient) SetEnv(env []string) { c.env = env }

func (c *CLIClient) buildArgs(opts Options) []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(opts.SettingSources, ","))
	}
	if opts.SystemPromptPreset != "" {
		args = append(args, "--system-prompt-preset", opts.SystemPromptPreset)
	}
	for k, v := range opts.ExtraArgs {
		if v == "" {
			args = append(args, "--"+k)
			continue
		}
		args = append(args, "--"+k+"="+v)
	}
	return args
}

// Query spawns the CLI, writes the initial user message, and streams events.
func (c *CLIClient) Query(ctx context.Context, prompt []ContentBlock, opts Options) (Stream, error) {
	opts.Normalize()

	cmd := exec.CommandContext(ctx, c.path, c.buildArgs(opts)...)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}
	if c.env != nil {
		cmd.Env = c.env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent cli %s: %w", c.path, err)
	}
	go func() { _, _ = io.Copy(io.Discard, stderr) }()

	s := &cliStream{
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan Event, 16),
		logger: c.logger,
		client: c,
	}
	go s.readLoop(stdout)

	if err := s.Send(ctx, prompt); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("send initial prompt: %w", err)
	}
	return s, nil
}

// ListCommands 返回最近一次 init 事件携带的命令清单（无则报错）
// ListCommands returns the command inventory captured from the most recent
// init event. Errors until any stream has produced one.
func (c *CLIClient) ListCommands(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lastCommands) == 0 {
		return nil, fmt.Errorf("no command inventory observed yet")
	}
	return append([]string(nil), c.lastCommands...), nil
}

func (c *CLIClient) recordCommands(cmds []string) {
	if len(cmds) == 0 {
		return
	}
	c.mu.Lock()
	c.lastCommands = append([]string(nil), cmds...)
	c.mu.Unlock()
}

type cliStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Event
	logger *slog.Logger
	client *CLIClient

	mu      sync.Mutex
	closed  bool
	readErr error
	reqID   int64
}

func (s *cliStream) Events() <-chan Event { return s.events }

func (s *cliStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

func (s *cliStream) readLoop(stdout io.ReadCloser) {
	defer close(s.events)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := DecodeEvent([]byte(line))
		if err != nil {
			s.logger.Warn("skip undecodable event", "err", err)
			continue
		}
		if sys, ok := ev.(SystemEvent); ok && sys.Subtype == "init" {
			s.client.recordCommands(sys.Commands)
		}
		s.events <- ev
	}
	if err := scanner.Err(); err != nil {
		s.mu.Lock()
		if !s.closed {
			s.readErr = fmt.Errorf("read event stream: %w", err)
		}
		s.mu.Unlock()
	}
	_ = s.cmd.Wait()
}

type wireUserMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
	} `json:"message"`
}

// Send writes one user message line to the CLI's stdin.
func (s *cliStream) Send(_ context.Context, blocks []ContentBlock) error {
	msg := wireUserMessage{Type: "user"}
	msg.Message.Role = "user"
	msg.Message.Content = blocks
	return s.writeLine(msg)
}

type wireControlRequest struct {
	Type    string `json:"type"`
	ID      string `json:"request_id"`
	Request struct {
		Subtype string `json:"subtype"`
		Model   string `json:"model,omitempty"`
		Mode    string `json:"mode,omitempty"`
	} `json:"request"`
}

func (s *cliStream) control(subtype, model, mode string) error {
	s.mu.Lock()
	s.reqID++
	id := s.reqID
	s.mu.Unlock()

	req := wireControlRequest{Type: "control_request", ID: fmt.Sprintf("req_%d", id)}
	req.Request.Subtype = subtype
	req.Request.Model = model
	req.Request.Mode = mode
	return s.writeLine(req)
}

func (s *cliStream) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to agent cli: %w", err)
	}
	return nil
}

func (s *cliStream) Interrupt(context.Context) error { return s.control("interrupt", "", "") }

func (s *cliStream) SetModel(_ context.Context, model string) error {
	return s.control("set_model", model, "")
}

func (s *cliStream) SetPermissionMode(_ context.Context, mode string) error {
	return s.control("set_permission_mode", "", mode)
}

// Close shuts stdin and kills the process; the read loop then drains and
// closes the event channel.
func (s *cliStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}
