package taskdoc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"sessiond/internal/agentapi"
)

// TaskStatus 任务级聚合状态 / TaskStatus is the aggregate, document-level state.
type TaskStatus string

const (
	TaskSubmitted TaskStatus = "submitted"
	TaskStarting  TaskStatus = "starting"
	TaskWorking   TaskStatus = "working"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// Terminal reports whether the status admits no further transition.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// SessionStatus 单次执行尝试的状态 / SessionStatus is the per-attempt state.
type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionActive      SessionStatus = "active"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionInterrupted SessionStatus = "interrupted"
)

// SessionRecord 一次执行尝试的元数据；身份以 SessionID 为准，绝不按列表位置
// SessionRecord holds one execution attempt. Identity is SessionID, never
// list position. Records are append-only; resuming appends a new record.
type SessionRecord struct {
	SessionID      string        `json:"session_id"`
	AgentSessionID string        `json:"agent_session_id"`
	Status         SessionStatus `json:"status"`
	CWD            string        `json:"cwd"`
	Model          string        `json:"model"`
	MachineID      string        `json:"machine_id"`
	CreatedAt      string        `json:"created_at"`
	CompletedAt    string        `json:"completed_at,omitempty"`
	TotalCostUSD   float64       `json:"total_cost_usd,omitempty"`
	DurationMS     int64         `json:"duration_ms,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// ConversationMessage 会话消息；创建后仅允许向尾部消息追加内容块
// ConversationMessage is append-only after creation except for block appends
// to the tail message.
type ConversationMessage struct {
	MessageID string                  `json:"message_id"`
	Role      string                  `json:"role"` // "user" | "assistant"
	Content   []agentapi.ContentBlock `json:"content"`
	Model     string                  `json:"model,omitempty"`
	Timestamp string                  `json:"timestamp"`
}

// Plan 审阅文档中的一份计划 / Plan is one captured plan pending review.
type Plan struct {
	PlanID       string `json:"plan_id"`
	Markdown     string `json:"markdown"`
	ReviewStatus string `json:"review_status"` // "pending" | "approved" | "rejected"
}

// TodoItem 待办条目；StartedAt/CompletedAt 在整表替换时按 Content 匹配保留
// TodoItem carries StartedAt/CompletedAt across full replacements, matched
// by Content equality.
type TodoItem struct {
	Content     string `json:"content"`
	Status      string `json:"status"` // "pending" | "in_progress" | "completed"
	ActiveForm  string `json:"active_form,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// TaskSnapshot 任务文档的纯数据快照 / TaskSnapshot is a plain-data view of the task meta.
type TaskSnapshot struct {
	Status    TaskStatus `json:"status"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// NewSessionID 生成本地会话 ID / NewSessionID generates a locally stable session id.
func NewSessionID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("sess_%d_%s", time.Now().UTC().Unix(), hex.EncodeToString(buf))
}

// NowUTC 统一时间戳格式 / NowUTC is the shared timestamp format (UTC RFC3339).
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
