package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sessiond/internal/agentapi"
	"sessiond/internal/taskdoc"
)

// Caller-misuse errors, surfaced synchronously and never swallowed.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoAgentSession   = errors.New("session has no agent session id")
	ErrNotStreaming     = errors.New("no active session")
	ErrAlreadyStreaming = errors.New("a session is already streaming")
)

// Result 一次会话尝试的最终结果 / Result is the outcome of one session attempt.
type Result struct {
	SessionID      string
	AgentSessionID string
	Status         taskdoc.SessionStatus
	TotalCostUSD   float64
	DurationMS     int64
	ResultText     string
	Error          string
}

// CreateOptions 新会话参数；未设置的项取默认值再转发给执行 API
// CreateOptions parameterizes a new session; unset fields are defaulted
// before being forwarded to the execution API.
type CreateOptions struct {
	Prompt             string
	ContentBlocks      []agentapi.ContentBlock
	CWD                string
	Model              string
	AllowedTools       []string
	PermissionMode     string
	MaxTurns           int
	SettingSources     []string
	SystemPromptPreset string
}

// Overrides 恢复会话时可覆盖的继承项 / Overrides replaces inherited fields on resume.
type Overrides struct {
	CWD            string
	Model          string
	AllowedTools   []string
	PermissionMode string
	MaxTurns       int
}

// Config 管理器配置 / Config tunes the manager.
type Config struct {
	IdleTimeout time.Duration
	// CommandFetchTimeout bounds the best-effort known-command fetch.
	CommandFetchTimeout time.Duration
	DefaultModel        string
	MachineID           string
	Projector           ProjectorPolicy
}

func (c *Config) normalize() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.CommandFetchTimeout <= 0 {
		c.CommandFetchTimeout = 2 * time.Second
	}
}

// Manager 会话编排器：持有唯一活跃流、状态机与看门狗，独占任务状态写权
// Manager drives one agent session at a time: it owns the per-session state
// machine, the consume loop, the idle watchdog, and is the only writer of the
// task-level status while a session is live.
type Manager struct {
	client agentapi.Client
	doc    taskdoc.Doc
	logger *slog.Logger
	cfg    Config

	mu         sync.Mutex
	stream     agentapi.Stream
	streaming  bool
	userClosed bool
	model      string // synthetic id in effect, preserved for display
	commands   map[string]struct{}
}

// NewManager wires the engine to its two collaborators.
func NewManager(client agentapi.Client, doc taskdoc.Doc, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalize()
	return &Manager{client: client, doc: doc, logger: logger, cfg: cfg}
}

// IsStreaming reports whether a session stream is currently open.
func (m *Manager) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// CreateSession 运行一次新会话直到终态并返回结果
// CreateSession runs one new session attempt to its terminal state.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (Result, error) {
	if opts.Model == "" {
		opts.Model = m.cfg.DefaultModel
	}
	rec := taskdoc.SessionRecord{
		SessionID: taskdoc.NewSessionID(),
		Status:    taskdoc.SessionPending,
		CWD:       opts.CWD,
		Model:     opts.Model,
		MachineID: m.cfg.MachineID,
		CreatedAt: taskdoc.NowUTC(),
	}
	return m.start(ctx, rec, opts, "")
}

// ResumeSession 基于历史记录追加一条新记录并以 resume 指令重开流
// ResumeSession appends a fresh record carrying forward cwd/model/machine
// from the prior one and reopens the stream with a resume directive.
func (m *Manager) ResumeSession(ctx context.Context, sessionID, prompt string, ov Overrides) (Result, error) {
	recs, err := m.doc.Sessions()
	if err != nil {
		return Result{}, fmt.Errorf("read sessions: %w", err)
	}
	var prior *taskdoc.SessionRecord
	for i := range recs {
		if recs[i].SessionID == sessionID {
			prior = &recs[i]
			break
		}
	}
	if prior == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if prior.AgentSessionID == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrNoAgentSession, sessionID)
	}

	opts := CreateOptions{
		Prompt:         prompt,
		CWD:            prior.CWD,
		Model:          prior.Model,
		AllowedTools:   ov.AllowedTools,
		PermissionMode: ov.PermissionMode,
		MaxTurns:       ov.MaxTurns,
	}
	if ov.CWD != "" {
		opts.CWD = ov.CWD
	}
	if ov.Model != "" {
		opts.Model = ov.Model
	}
	rec := taskdoc.SessionRecord{
		SessionID: taskdoc.NewSessionID(),
		Status:    taskdoc.SessionPending,
		CWD:       opts.CWD,
		Model:     opts.Model,
		MachineID: prior.MachineID,
		CreatedAt: taskdoc.NowUTC(),
	}
	return m.start(ctx, rec, opts, prior.AgentSessionID)
}

// start pushes the pending record, opens the stream and runs the consume
// loop. Exactly one terminal-state write happens per attempt, here.
func (m *Manager) start(ctx context.Context, rec taskdoc.SessionRecord, opts CreateOptions, resume string) (Result, error) {
	m.mu.Lock()
	if m.streaming {
		m.mu.Unlock()
		return Result{}, ErrAlreadyStreaming
	}
	m.streaming = true
	m.userClosed = false
	m.model = opts.Model
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.stream = nil
		m.streaming = false
		m.mu.Unlock()
	}()

	if err := m.doc.PushSession(rec); err != nil {
		return Result{}, fmt.Errorf("push session record: %w", err)
	}
	if err := m.doc.SetStatus(taskdoc.TaskStarting); err != nil {
		return Result{}, fmt.Errorf("set task status: %w", err)
	}

	blocks := FormatPrompt(opts.Prompt, opts.ContentBlocks)
	blocks = escapeSlashCommandBlocks(blocks, m.fetchCommands(ctx))

	apiModel, fast := resolveModel(opts.Model)
	apiOpts := agentapi.Options{
		CWD:                opts.CWD,
		Model:              apiModel,
		AllowedTools:       opts.AllowedTools,
		PermissionMode:     opts.PermissionMode,
		MaxTurns:           opts.MaxTurns,
		Resume:             resume,
		SettingSources:     opts.SettingSources,
		SystemPromptPreset: opts.SystemPromptPreset,
	}
	if fast {
		apiOpts.ExtraArgs = map[string]string{fastModeArg: "1"}
	}

	stream, err := m.client.Query(ctx, blocks, apiOpts)
	if err != nil {
		m.logger.Error("open execution stream", "session", rec.SessionID, "err", err)
		return m.finish(rec.SessionID, terminal{
			status: taskdoc.SessionFailed,
			task:   taskdoc.TaskFailed,
			errMsg: err.Error(),
		}), nil
	}

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()

	m.recordUserMessage(blocks, opts.Model)

	return m.consume(ctx, rec.SessionID, stream), nil
}

// terminal is the computed end state of one attempt.
type terminal struct {
	status         taskdoc.SessionStatus
	task           taskdoc.TaskStatus
	errMsg         string
	agentSessionID string
	costUSD        float64
	durationMS     int64
	resultText     string
}

// consume 顺序消费事件流：每个事件先喂看门狗、再分发投影与提取，事件 N 的
// 变更提交后才处理 N+1。
// consume iterates the stream sequentially: each event resets the watchdog,
// then routes through the projector/extractors; mutations from event N commit
// before event N+1 is read.
func (m *Manager) consume(ctx context.Context, sessionID string, stream agentapi.Stream) Result {
	wd := NewWatchdog(m.cfg.IdleTimeout)
	defer wd.Stop()

	var (
		agentSessionID string
		resultEv       *agentapi.ResultEvent
		timedOut       bool
	)

loop:
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				break loop
			}
			wd.Reset()
			switch e := ev.(type) {
			case agentapi.SystemEvent:
				if e.Subtype != "init" {
					m.logger.Debug("system event", "subtype", e.Subtype)
					continue
				}
				agentSessionID = e.AgentSessionID
				m.mergeCommands(e.Commands)
				m.applyInit(sessionID, e.AgentSessionID)
			case agentapi.ResultEvent:
				resultEv = &e
			case agentapi.AssistantEvent:
				m.applyProjection(ev)
				m.extractFromAssistant(e)
			case agentapi.UserEvent:
				m.applyProjection(ev)
			case agentapi.ProgressEvent:
				m.logger.Debug("progress event", "kind", e.Kind)
			}
		case <-wd.C():
			timedOut = true
			m.logger.Warn("idle timeout, forcing stream closed",
				"session", sessionID, "threshold", m.cfg.IdleTimeout)
			_ = stream.Close()
			// Keep draining; the read side closes the channel shortly.
		}
	}

	m.mu.Lock()
	userClosed := m.userClosed
	m.mu.Unlock()

	end := terminal{agentSessionID: agentSessionID}
	switch {
	case timedOut:
		end.status = taskdoc.SessionInterrupted
		end.task = taskdoc.TaskCanceled
		end.errMsg = fmt.Sprintf("idle timeout after %s", m.cfg.IdleTimeout)
	case userClosed:
		end.status = taskdoc.SessionInterrupted
		end.task = taskdoc.TaskCanceled
		end.errMsg = "session closed by caller"
	case stream.Err() != nil:
		end.status = taskdoc.SessionFailed
		end.task = taskdoc.TaskFailed
		end.errMsg = stream.Err().Error()
	case resultEv == nil:
		end.status = taskdoc.SessionFailed
		end.task = taskdoc.TaskFailed
		end.errMsg = "Session ended without result message"
	case resultEv.IsError:
		end.status = taskdoc.SessionFailed
		end.task = taskdoc.TaskFailed
		if len(resultEv.Errors) > 0 {
			end.errMsg = resultEv.Errors[0]
		} else {
			end.errMsg = "Agent SDK error: " + resultEv.Subtype
		}
	default:
		end.status = taskdoc.SessionCompleted
		end.task = taskdoc.TaskCompleted
		end.costUSD = resultEv.TotalCostUSD
		end.durationMS = resultEv.DurationMS
		end.resultText = resultEv.Result
	}
	return m.finish(sessionID, end)
}

// finish 写入唯一一次终态（记录 + 任务状态一致）并组装结果
// finish performs the single terminal write (record and task status agree)
// and assembles the Result.
func (m *Manager) finish(sessionID string, end terminal) Result {
	completedAt := taskdoc.NowUTC()
	ok, err := m.doc.UpdateSession(sessionID, func(rec *taskdoc.SessionRecord) {
		rec.Status = end.status
		rec.CompletedAt = completedAt
		rec.Error = end.errMsg
		rec.TotalCostUSD = end.costUSD
		rec.DurationMS = end.durationMS
		if end.agentSessionID != "" {
			rec.AgentSessionID = end.agentSessionID
		}
	})
	if err != nil {
		m.logger.Error("write terminal session state", "session", sessionID, "err", err)
	} else if !ok {
		m.logger.Warn("session record vanished before terminal write", "session", sessionID)
	}
	if err := m.doc.SetStatus(end.task); err != nil {
		m.logger.Error("write terminal task status", "status", end.task, "err", err)
	}
	return Result{
		SessionID:      sessionID,
		AgentSessionID: end.agentSessionID,
		Status:         end.status,
		TotalCostUSD:   end.costUSD,
		DurationMS:     end.durationMS,
		ResultText:     end.resultText,
		Error:          end.errMsg,
	}
}

func (m *Manager) applyInit(sessionID, agentSessionID string) {
	ok, err := m.doc.UpdateSession(sessionID, func(rec *taskdoc.SessionRecord) {
		rec.AgentSessionID = agentSessionID
		rec.Status = taskdoc.SessionActive
	})
	if err != nil {
		m.logger.Error("apply init event", "session", sessionID, "err", err)
		return
	}
	if !ok {
		m.logger.Warn("session record missing on init", "session", sessionID)
	}
	if err := m.doc.SetStatus(taskdoc.TaskWorking); err != nil {
		m.logger.Error("set task status working", "err", err)
	}
}

func (m *Manager) applyProjection(ev agentapi.Event) {
	conversation, err := m.doc.Messages()
	if err != nil {
		m.logger.Error("read conversation", "err", err)
		return
	}
	muts, warning := projectEvent(ev, m.currentModel(), conversation, m.cfg.Projector)
	if warning != "" {
		m.logger.Warn("assistant event flagged an error", "err", warning)
	}
	for _, mut := range muts {
		switch mut.Kind {
		case AppendMessage:
			if err := m.doc.PushMessage(mut.Message); err != nil {
				m.logger.Error("append conversation message", "err", err)
			}
		case AppendBlock:
			ok, err := m.doc.UpdateMessage(mut.TargetMessageID, func(msg *taskdoc.ConversationMessage) {
				msg.Content = append(msg.Content, mut.Block)
			})
			if err != nil {
				m.logger.Error("append content block", "message", mut.TargetMessageID, "err", err)
			} else if !ok {
				m.logger.Warn("target message vanished, dropping block", "message", mut.TargetMessageID)
			}
		}
	}
}

// extractFromAssistant 处理 plan-exit 与 todo-write 工具调用的持久化副作用
// extractFromAssistant applies the durable side effects of plan-exit and
// todo-write tool invocations.
func (m *Manager) extractFromAssistant(ev agentapi.AssistantEvent) {
	for _, block := range ev.Content {
		use, ok := block.(agentapi.ToolUseBlock)
		if !ok {
			continue
		}
		switch use.Name {
		case planExitToolName:
			plans, err := m.doc.Plans()
			if err != nil {
				m.logger.Error("read plans", "err", err)
				continue
			}
			plan, ok := extractPlan(use.Input, plans)
			if !ok {
				continue
			}
			if err := m.doc.PushPlan(plan); err != nil {
				m.logger.Error("append plan", "err", err)
				continue
			}
			if err := m.doc.EnsurePlanDraft(plan.PlanID); err != nil {
				m.logger.Error("provision plan draft", "plan", plan.PlanID, "err", err)
			}
		case todoWriteToolName:
			existing, err := m.doc.Todos()
			if err != nil {
				m.logger.Error("read todos", "err", err)
				continue
			}
			items, changed := mergeTodos(existing, use.Input, taskdoc.NowUTC())
			if !changed {
				continue
			}
			if err := m.doc.ReplaceTodos(items); err != nil {
				m.logger.Error("replace todos", "err", err)
			}
		}
	}
}

func (m *Manager) recordUserMessage(blocks []agentapi.ContentBlock, model string) {
	msg := taskdoc.ConversationMessage{
		MessageID: uuid.NewString(),
		Role:      "user",
		Content:   blocks,
		Model:     model,
		Timestamp: taskdoc.NowUTC(),
	}
	if err := m.doc.PushMessage(msg); err != nil {
		m.logger.Error("record user message", "err", err)
	}
}

func (m *Manager) currentModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// SendFollowUp 向活跃流注入一条后续用户消息；无活跃流时报错而不是静默丢弃
// SendFollowUp injects a follow-up user message into the active stream, and
// fails loudly when none is open.
func (m *Manager) SendFollowUp(ctx context.Context, text string) error {
	m.mu.Lock()
	stream := m.stream
	streaming := m.streaming
	known := m.commands
	model := m.model
	m.mu.Unlock()
	if !streaming || stream == nil {
		return ErrNotStreaming
	}
	// Refresh the command inventory off the send path; the escape below uses
	// whatever set is already cached.
	go m.refreshCommands(context.WithoutCancel(ctx))

	blocks := []agentapi.ContentBlock{agentapi.TextBlock{Text: EscapeSlashCommand(text, known)}}
	if err := stream.Send(ctx, blocks); err != nil {
		return fmt.Errorf("send follow-up: %w", err)
	}
	m.recordUserMessage(blocks, model)
	return nil
}

// SetModel 切换活跃流的模型；合成 "-fast" ID 先解析，fast 参数无法中途生效时
// 记一条警告。
// SetModel switches the active stream's model. Synthetic "-fast" ids resolve
// to the real id; fast-mode extra arguments cannot apply mid-stream, which is
// logged as a warning.
func (m *Manager) SetModel(ctx context.Context, model string) error {
	m.mu.Lock()
	stream := m.stream
	streaming := m.streaming
	m.mu.Unlock()
	if !streaming || stream == nil {
		return ErrNotStreaming
	}
	apiModel, fast := resolveModel(model)
	if fast {
		m.logger.Warn("fast-mode extra arguments cannot be applied mid-stream", "model", model)
	}
	if err := stream.SetModel(ctx, apiModel); err != nil {
		return fmt.Errorf("set model: %w", err)
	}
	m.mu.Lock()
	m.model = model
	m.mu.Unlock()
	return nil
}

// SetPermissionMode delegates to the active stream capability.
func (m *Manager) SetPermissionMode(ctx context.Context, mode string) error {
	m.mu.Lock()
	stream := m.stream
	streaming := m.streaming
	m.mu.Unlock()
	if !streaming || stream == nil {
		return ErrNotStreaming
	}
	if err := stream.SetPermissionMode(ctx, mode); err != nil {
		return fmt.Errorf("set permission mode: %w", err)
	}
	return nil
}

// CloseSession 主动结束活跃流；消费循环观察到关闭后写终态
// CloseSession signals the active stream to end; the consume loop observes
// the closure and writes the terminal state.
func (m *Manager) CloseSession() error {
	m.mu.Lock()
	stream := m.stream
	if stream != nil {
		m.userClosed = true
	}
	m.mu.Unlock()
	if stream == nil {
		return ErrNotStreaming
	}
	return stream.Close()
}

// ShouldResume 返回最近一条可恢复记录的 ID（按 createdAt，最新优先）
// ShouldResume scans for the most recently created record whose status is
// not failed and whose agent session id is set. A wholly failed history
// yields no resume.
func (m *Manager) ShouldResume() (string, bool) {
	recs, err := m.doc.Sessions()
	if err != nil {
		m.logger.Error("read sessions", "err", err)
		return "", false
	}
	best := -1
	for i, rec := range recs {
		if rec.Status == taskdoc.SessionFailed || rec.AgentSessionID == "" {
			continue
		}
		// RFC3339 UTC timestamps order lexically.
		if best == -1 || rec.CreatedAt >= recs[best].CreatedAt {
			best = i
		}
	}
	if best == -1 {
		return "", false
	}
	return recs[best].SessionID, true
}

// LatestUserPrompt 返回最近一条用户消息的文本（text 块按换行拼接）
// LatestUserPrompt concatenates the text blocks of the last user message.
func (m *Manager) LatestUserPrompt() (string, bool) {
	msg, ok := m.latestUserMessage()
	if !ok {
		return "", false
	}
	text := ""
	for _, block := range msg.Content {
		if t, isText := block.(agentapi.TextBlock); isText {
			if text != "" {
				text += "\n"
			}
			text += t.Text
		}
	}
	return text, true
}

// LatestUserContentBlocks 返回最近一条用户消息的非 tool_* 内容块
// LatestUserContentBlocks returns the non-tool blocks of the last user
// message in order, or nil when no user message exists.
func (m *Manager) LatestUserContentBlocks() []agentapi.ContentBlock {
	msg, ok := m.latestUserMessage()
	if !ok {
		return nil
	}
	var out []agentapi.ContentBlock
	for _, block := range msg.Content {
		switch block.(type) {
		case agentapi.ToolUseBlock, agentapi.ToolResultBlock:
			continue
		default:
			out = append(out, block)
		}
	}
	return out
}

func (m *Manager) latestUserMessage() (taskdoc.ConversationMessage, bool) {
	msgs, err := m.doc.Messages()
	if err != nil {
		m.logger.Error("read conversation", "err", err)
		return taskdoc.ConversationMessage{}, false
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i], true
		}
	}
	return taskdoc.ConversationMessage{}, false
}

// fetchCommands 限时拉取已知命令集；失败退化为缓存（可能为空）
// fetchCommands queries the known-command set within a short deadline,
// degrading to the cached (possibly empty) set on failure.
func (m *Manager) fetchCommands(ctx context.Context) map[string]struct{} {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandFetchTimeout)
	defer cancel()
	names, err := m.client.ListCommands(ctx)
	if err != nil {
		m.logger.Debug("command inventory unavailable", "err", err)
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.commands
	}
	set := commandSet(names)
	m.mu.Lock()
	m.commands = set
	m.mu.Unlock()
	return set
}

func (m *Manager) refreshCommands(ctx context.Context) {
	_ = m.fetchCommands(ctx)
}

func (m *Manager) mergeCommands(names []string) {
	set := commandSet(names)
	if set == nil {
		return
	}
	m.mu.Lock()
	if m.commands == nil {
		m.commands = set
	} else {
		for name := range set {
			m.commands[name] = struct{}{}
		}
	}
	m.mu.Unlock()
}
