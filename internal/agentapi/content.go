package agentapi

import (
	"encoding/json"
	"fmt"
)

// ContentBlock 消息内容块（tagged union，按 "type" 区分）
// ContentBlock is one part of a message body (tagged union, discriminated by "type").
type ContentBlock interface {
	isContentBlock()
	BlockType() string
}

// TextBlock is plain assistant/user text.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) isContentBlock() {}
func (TextBlock) BlockType() string { return "text" }
func (b TextBlock) MarshalJSON() ([]byte, error) { return marshalBlock("text", textBlockJSON(b)) }

// ToolUseBlock records an agent tool invocation.
type ToolUseBlock struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Input           json.RawMessage `json:"input,omitempty"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
}

func (ToolUseBlock) isContentBlock() {}
func (ToolUseBlock) BlockType() string { return "tool_use" }
func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	return marshalBlock("tool_use", toolUseBlockJSON(b))
}

// ToolResultBlock carries the outcome of a prior tool invocation.
type ToolResultBlock struct {
	ToolUseID       string `json:"tool_use_id"`
	Content         string `json:"content,omitempty"`
	IsError         bool   `json:"is_error,omitempty"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"`
}

func (ToolResultBlock) isContentBlock() {}
func (ToolResultBlock) BlockType() string { return "tool_result" }
func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	return marshalBlock("tool_result", toolResultBlockJSON(b))
}

// ImageSource 图片来源（base64 数据或 URL）
// ImageSource references image data (base64 payload or URL).
type ImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ImageBlock is an inline image attachment.
type ImageBlock struct {
	ID     string      `json:"id,omitempty"`
	Source ImageSource `json:"source"`
}

func (ImageBlock) isContentBlock() {}
func (ImageBlock) BlockType() string { return "image" }
func (b ImageBlock) MarshalJSON() ([]byte, error) { return marshalBlock("image", imageBlockJSON(b)) }

// Shadow types strip the custom MarshalJSON so the field layout serializes normally.
type (
	textBlockJSON       TextBlock
	toolUseBlockJSON    ToolUseBlock
	toolResultBlockJSON ToolResultBlock
	imageBlockJSON      ImageBlock
)

func marshalBlock(blockType string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) == 2 { // "{}"
		return []byte(fmt.Sprintf(`{"type":%q}`, blockType)), nil
	}
	out := make([]byte, 0, len(body)+16)
	out = append(out, []byte(fmt.Sprintf(`{"type":%q,`, blockType))...)
	out = append(out, body[1:]...)
	return out, nil
}

// DecodeContentBlock 按 "type" 字段解码单个内容块；未知类型返回错误
// DecodeContentBlock decodes one block by its "type" tag; unknown types are an error.
func DecodeContentBlock(raw json.RawMessage) (ContentBlock, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("decode block tag: %w", err)
	}
	switch tag.Type {
	case "text":
		var b textBlockJSON
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode text block: %w", err)
		}
		return TextBlock(b), nil
	case "tool_use":
		var b toolUseBlockJSON
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode tool_use block: %w", err)
		}
		return ToolUseBlock(b), nil
	case "tool_result":
		// Content arrives either as a plain string or as a nested block array;
		// non-string payloads are kept as their raw JSON text.
		var b struct {
			ToolUseID       string          `json:"tool_use_id"`
			Content         json.RawMessage `json:"content"`
			IsError         bool            `json:"is_error"`
			ParentToolUseID string          `json:"parent_tool_use_id"`
		}
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode tool_result block: %w", err)
		}
		content := ""
		if len(b.Content) > 0 {
			var s string
			if err := json.Unmarshal(b.Content, &s); err == nil {
				content = s
			} else {
				content = string(b.Content)
			}
		}
		return ToolResultBlock{
			ToolUseID:       b.ToolUseID,
			Content:         content,
			IsError:         b.IsError,
			ParentToolUseID: b.ParentToolUseID,
		}, nil
	case "image":
		var b imageBlockJSON
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode image block: %w", err)
		}
		return ImageBlock(b), nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", tag.Type)
	}
}

// DecodeContentBlocks 解码内容块数组 / DecodeContentBlocks decodes a JSON array of blocks.
func DecodeContentBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode block list: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(items))
	for i, item := range items {
		block, err := DecodeContentBlock(item)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
