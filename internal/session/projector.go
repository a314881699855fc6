package session

import (
	"github.com/google/uuid"

	"sessiond/internal/agentapi"
	"sessiond/internal/taskdoc"
)

// ProjectorPolicy 投影策略。不同变体对“只有 tool_use、没有文本”的 assistant
// 事件处理不一致；这里作为显式可配置项，默认保留。
// ProjectorPolicy makes the tool-only assistant message behavior an explicit
// choice: some variants of this protocol drop text-less tool-only messages,
// the default here keeps them.
type ProjectorPolicy struct {
	DropToolOnlyMessages bool
}

// MutationKind 标识一次文档变更的种类 / MutationKind tags one document mutation.
type MutationKind int

const (
	// AppendMessage pushes a new conversation message.
	AppendMessage MutationKind = iota
	// AppendBlock appends one content block to an existing message, located
	// by stable message id at write time.
	AppendBlock
)

// Mutation 投影产生的一次文档变更 / Mutation is one projected document change.
type Mutation struct {
	Kind            MutationKind
	Message         taskdoc.ConversationMessage
	TargetMessageID string
	Block           agentapi.ContentBlock
}

// projectEvent 把一个协议事件映射为零或多个会话记录变更。纯函数：只读取传入
// 的会话快照，永不直接写存储。
// projectEvent maps one protocol event into zero or more conversation
// mutations. Pure: reads the passed snapshot, never touches storage. The
// returned warning is surfaced by the caller as a non-fatal log line.
func projectEvent(ev agentapi.Event, model string, conversation []taskdoc.ConversationMessage, policy ProjectorPolicy) (muts []Mutation, warning string) {
	switch e := ev.(type) {
	case agentapi.AssistantEvent:
		return projectAssistant(e, model, policy)
	case agentapi.UserEvent:
		if e.Replay {
			// Replayed events re-arrive on reconnect/resume and were already
			// applied the first time around.
			return nil, ""
		}
		return projectUser(e, model, conversation), ""
	default:
		// init/result are lifecycle, progress pings are noise; neither
		// mutates the conversation record.
		return nil, ""
	}
}

func projectAssistant(ev agentapi.AssistantEvent, model string, policy ProjectorPolicy) ([]Mutation, string) {
	var blocks []agentapi.ContentBlock
	hasText := false
	for _, block := range ev.Content {
		switch block.(type) {
		case agentapi.TextBlock:
			hasText = true
			blocks = append(blocks, block)
		case agentapi.ToolUseBlock:
			blocks = append(blocks, block)
		}
	}
	if len(blocks) == 0 {
		return nil, ev.Error
	}
	if !hasText && policy.DropToolOnlyMessages {
		return nil, ev.Error
	}
	msg := taskdoc.ConversationMessage{
		MessageID: uuid.NewString(),
		Role:      "assistant",
		Content:   blocks,
		Model:     model,
		Timestamp: taskdoc.NowUTC(),
	}
	return []Mutation{{Kind: AppendMessage, Message: msg}}, ev.Error
}

func projectUser(ev agentapi.UserEvent, model string, conversation []taskdoc.ConversationMessage) []Mutation {
	var muts []Mutation
	for _, block := range ev.Content {
		result, ok := block.(agentapi.ToolResultBlock)
		if !ok {
			// The engine records user prompts itself when it sends them; any
			// other user-side block here is an echo and stays un-projected.
			continue
		}
		if target := toolResultTarget(conversation, result.ToolUseID); target != "" {
			muts = append(muts, Mutation{Kind: AppendBlock, TargetMessageID: target, Block: result})
			continue
		}
		muts = append(muts, Mutation{Kind: AppendMessage, Message: taskdoc.ConversationMessage{
			MessageID: uuid.NewString(),
			Role:      "assistant",
			Content:   []agentapi.ContentBlock{result},
			Model:     model,
			Timestamp: taskdoc.NowUTC(),
		}})
	}
	return muts
}

// toolResultTarget 反向扫描找结果应当挂接的 assistant 消息；last-match-wins。
// 优先找拥有同 id 且尚未收到结果的 tool_use 的最近消息，找不到再退回最近一条
// 仍有未回应 tool_use 的 assistant 消息，都没有则返回空串（独立消息兜底）。
//
// toolResultTarget scans backward for the assistant message the result should
// attach to; last match wins. Prefer the owner of the matching unresolved
// tool_use, fall back to the most recent assistant message with any
// unresolved tool_use, else "" (caller creates a standalone message).
func toolResultTarget(conversation []taskdoc.ConversationMessage, toolUseID string) string {
	fallback := ""
	for i := len(conversation) - 1; i >= 0; i-- {
		msg := conversation[i]
		if msg.Role != "assistant" {
			continue
		}
		ownsTarget := false
		unresolved := map[string]bool{}
		for _, block := range msg.Content {
			switch b := block.(type) {
			case agentapi.ToolUseBlock:
				unresolved[b.ID] = true
			case agentapi.ToolResultBlock:
				delete(unresolved, b.ToolUseID)
			}
		}
		if toolUseID != "" && unresolved[toolUseID] {
			ownsTarget = true
		}
		if ownsTarget {
			return msg.MessageID
		}
		if fallback == "" && len(unresolved) > 0 {
			fallback = msg.MessageID
		}
	}
	return fallback
}
