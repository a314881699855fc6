package agentapi

import (
	"encoding/json"
	"fmt"
)

// Event 协议事件（tagged union，按 "type" 区分）
// Event is one typed protocol event from the execution stream.
type Event interface {
	isEvent()
	EventType() string
}

// SystemEvent announces stream lifecycle facts. Subtype "init" carries the
// API-assigned session id and the model actually in effect.
type SystemEvent struct {
	Subtype        string   `json:"subtype"`
	AgentSessionID string   `json:"session_id,omitempty"`
	Model          string   `json:"model,omitempty"`
	Commands       []string `json:"slash_commands,omitempty"`
}

func (SystemEvent) isEvent() {}
func (SystemEvent) EventType() string { return "system" }

// AssistantEvent carries one assistant message worth of content blocks.
// Error is non-empty when the API flagged the message but still produced text;
// callers surface it as a warning, never as a terminal failure.
type AssistantEvent struct {
	Model   string
	Content []ContentBlock
	Error   string
}

func (AssistantEvent) isEvent() {}
func (AssistantEvent) EventType() string { return "assistant" }

// UserEvent carries user-side blocks, in practice tool_result payloads.
// Replay marks events re-emitted on reconnect/resume; they must be ignored.
type UserEvent struct {
	Content []ContentBlock
	Replay  bool
}

func (UserEvent) isEvent() {}
func (UserEvent) EventType() string { return "user" }

// ResultEvent terminates the stream with the session outcome.
type ResultEvent struct {
	Subtype      string   `json:"subtype"`
	IsError      bool     `json:"is_error"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	DurationMS   int64    `json:"duration_ms"`
	Result       string   `json:"result,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

func (ResultEvent) isEvent() {}
func (ResultEvent) EventType() string { return "result" }

// ProgressEvent 进度/状态心跳（progress ping、子任务通知等），不投影到会话记录
// ProgressEvent covers progress pings, sub-task notifications and status
// pings. Logged only; never projected into the conversation record.
type ProgressEvent struct {
	Kind    string
	Payload json.RawMessage
}

func (ProgressEvent) isEvent() {}
func (ProgressEvent) EventType() string { return "progress" }

// DecodeEvent 解码一行 JSONL 协议事件 / DecodeEvent decodes one JSONL protocol event.
func DecodeEvent(raw []byte) (Event, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("decode event tag: %w", err)
	}
	switch tag.Type {
	case "system":
		var ev SystemEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode system event: %w", err)
		}
		return ev, nil
	case "assistant":
		var env struct {
			Message struct {
				Model   string          `json:"model"`
				Content json.RawMessage `json:"content"`
				Error   string          `json:"error,omitempty"`
			} `json:"message"`
			Error string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode assistant event: %w", err)
		}
		blocks, err := DecodeContentBlocks(env.Message.Content)
		if err != nil {
			return nil, fmt.Errorf("assistant content: %w", err)
		}
		errText := env.Message.Error
		if errText == "" {
			errText = env.Error
		}
		return AssistantEvent{Model: env.Message.Model, Content: blocks, Error: errText}, nil
	case "user":
		var env struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
			Replay bool `json:"isReplay"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode user event: %w", err)
		}
		blocks, err := DecodeContentBlocks(env.Message.Content)
		if err != nil {
			// User events may carry plain-string content; treat it as one text block.
			var plain struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}
			if err2 := json.Unmarshal(raw, &plain); err2 != nil {
				return nil, fmt.Errorf("user content: %w", err)
			}
			blocks = []ContentBlock{TextBlock{Text: plain.Message.Content}}
		}
		return UserEvent{Content: blocks, Replay: env.Replay}, nil
	case "result":
		var ev ResultEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode result event: %w", err)
		}
		return ev, nil
	default:
		// Unknown kinds stay visible to the consumer as progress noise.
		return ProgressEvent{Kind: tag.Type, Payload: append(json.RawMessage(nil), raw...)}, nil
	}
}
