package session

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"sessiond/internal/taskdoc"
)

// Tool names whose invocations carry durable review-document state.
const (
	planExitToolName  = "ExitPlanMode"
	todoWriteToolName = "TodoWrite"
)

// extractPlan 从 plan-exit 工具调用中提取 markdown；已有相同 markdown 的计划时
// 不重复（重放安全）。
// extractPlan turns a plan-exit tool invocation into a Plan entry. Returns
// false when the input has no plan text or an identical plan already exists,
// which keeps replays from duplicating entries.
func extractPlan(input json.RawMessage, existing []taskdoc.Plan) (taskdoc.Plan, bool) {
	var payload struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return taskdoc.Plan{}, false
	}
	markdown := strings.TrimSpace(payload.Plan)
	if markdown == "" {
		return taskdoc.Plan{}, false
	}
	for _, plan := range existing {
		if plan.Markdown == markdown {
			return taskdoc.Plan{}, false
		}
	}
	return taskdoc.Plan{
		PlanID:       uuid.NewString(),
		Markdown:     markdown,
		ReviewStatus: "pending",
	}, true
}

// mergeTodos 按整表替换处理 todo-write：解析失败或显式空表时不动现状；否则用
// 新表替换，按 Content 匹配沿用 StartedAt/CompletedAt，并在状态首次到达
// in_progress/completed 时盖时间戳。
//
// mergeTodos applies the full-replacement semantics of a todo-write
// invocation. A parse failure or an explicitly empty list leaves the current
// items untouched (no-op, not a clear). Otherwise the whole list is replaced;
// StartedAt/CompletedAt carry forward by content match, and each stamp is set
// the first time the matching status is reached.
func mergeTodos(existing []taskdoc.TodoItem, input json.RawMessage, now string) ([]taskdoc.TodoItem, bool) {
	var payload struct {
		Todos []struct {
			Content    string `json:"content"`
			Status     string `json:"status"`
			ActiveForm string `json:"activeForm"`
		} `json:"todos"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return nil, false
	}
	if len(payload.Todos) == 0 {
		return nil, false
	}

	prior := make(map[string]taskdoc.TodoItem, len(existing))
	for _, item := range existing {
		prior[item.Content] = item
	}

	items := make([]taskdoc.TodoItem, 0, len(payload.Todos))
	for _, t := range payload.Todos {
		item := taskdoc.TodoItem{
			Content:    t.Content,
			Status:     normalizeTodoStatus(t.Status),
			ActiveForm: t.ActiveForm,
		}
		if old, ok := prior[t.Content]; ok {
			item.StartedAt = old.StartedAt
			item.CompletedAt = old.CompletedAt
		}
		switch item.Status {
		case "in_progress":
			if item.StartedAt == "" {
				item.StartedAt = now
			}
		case "completed":
			if item.CompletedAt == "" {
				item.CompletedAt = now
			}
		}
		items = append(items, item)
	}
	return items, true
}

func normalizeTodoStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in_progress":
		return "in_progress"
	case "completed":
		return "completed"
	default:
		return "pending"
	}
}
