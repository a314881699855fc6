package session

import (
	"fmt"

	"sessiond/internal/agentapi"
)

// FormatPrompt 把用户输入归一化为执行 API 的内容块序列。
// 纯文本变成单个 text 块；块列表把图片重排到最前（保持相对顺序），每张图片后
// 跟一个 "[Image #n]" 标注文本块，其余 text 块按原顺序排在其后。
//
// FormatPrompt normalizes a user prompt into the wire shape. A plain string
// becomes one text block. For a block list, images move to the front (stable
// relative order), each followed by an "[Image #n]" label block, with the
// remaining text blocks after them in original order.
func FormatPrompt(text string, blocks []agentapi.ContentBlock) []agentapi.ContentBlock {
	if len(blocks) == 0 {
		return []agentapi.ContentBlock{agentapi.TextBlock{Text: text}}
	}

	var images []agentapi.ContentBlock
	var rest []agentapi.ContentBlock
	imageCount := 0
	for _, block := range blocks {
		switch b := block.(type) {
		case agentapi.ImageBlock:
			imageCount++
			if b.ID == "" {
				b.ID = fmt.Sprintf("image-%d", imageCount)
			}
			images = append(images, b)
			images = append(images, agentapi.TextBlock{Text: fmt.Sprintf("[Image #%d]", imageCount)})
		case agentapi.TextBlock:
			rest = append(rest, b)
		default:
			rest = append(rest, block)
		}
	}
	out := make([]agentapi.ContentBlock, 0, len(images)+len(rest))
	out = append(out, images...)
	out = append(out, rest...)
	return out
}
