package agentapi

import "context"

// Options 一次执行请求的选项包 / Options is the option bag for one execution request.
type Options struct {
	CWD            string
	Model          string
	AllowedTools   []string
	PermissionMode string
	MaxTurns       int
	// Resume carries the API-assigned session id of a prior run; empty for new sessions.
	Resume             string
	SettingSources     []string
	SystemPromptPreset string
	// ExtraArgs are model-specific flags forwarded verbatim (e.g. fast mode).
	ExtraArgs map[string]string
}

const (
	// DefaultSystemPromptPreset 默认系统提示词预设 / default system prompt preset name.
	DefaultSystemPromptPreset = "claude_code"
	// DefaultPermissionMode applies when the caller sets none.
	DefaultPermissionMode = "acceptEdits"
	// DefaultMaxTurns bounds one session when the caller sets no limit.
	DefaultMaxTurns = 250
)

// Normalize 填充缺省值 / Normalize fills unset options with defaults.
func (o *Options) Normalize() {
	if len(o.SettingSources) == 0 {
		o.SettingSources = []string{"project"}
	}
	if o.SystemPromptPreset == "" {
		o.SystemPromptPreset = DefaultSystemPromptPreset
	}
	if o.PermissionMode == "" {
		o.PermissionMode = DefaultPermissionMode
	}
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
}

// Client 执行 API 客户端：打开事件流并提供旁路查询
// Client opens execution streams and exposes side-channel queries.
type Client interface {
	// Query opens a stream for one prompt. The prompt is either the initial
	// user text or pre-formatted content blocks.
	Query(ctx context.Context, prompt []ContentBlock, opts Options) (Stream, error)

	// ListCommands returns the command names the interpreter currently knows.
	// Best-effort: callers must tolerate errors and degrade to an empty set.
	ListCommands(ctx context.Context) ([]string, error)
}

// Stream 能力对象：事件序列与其旁路控制操作捆绑在一起
// Stream is the capability object bundling the event sequence with its
// side-channel controls.
type Stream interface {
	// Events yields protocol events in arrival order. The channel closes on
	// stream end, stream fault, or Close; Err reports the fault if any.
	Events() <-chan Event
	Err() error

	// Send injects a follow-up user message into the open stream.
	Send(ctx context.Context, blocks []ContentBlock) error

	Interrupt(ctx context.Context) error
	SetModel(ctx context.Context, model string) error
	SetPermissionMode(ctx context.Context, mode string) error

	// Close forces the stream shut. Safe to call more than once.
	Close() error
}
