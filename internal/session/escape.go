package session

import (
	"strings"
	"unicode"

	"sessiond/internal/agentapi"
)

// commandEscapeMarker 零宽空格：让下游解释器不再把 "/name" 当命令，可见文本不变
// commandEscapeMarker is a zero-width space. Prefixing it keeps the visible
// text unchanged while the downstream interpreter no longer sees a command.
const commandEscapeMarker = "\u200B"

// leadingCommandName 提取行首 "/name" 的 name；不是命令形态时返回 ""
// leadingCommandName extracts name from a leading "/name" token, or "".
func leadingCommandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	rest := text[1:]
	end := len(rest)
	for i, r := range rest {
		if unicode.IsSpace(r) {
			end = i
			break
		}
	}
	name := rest[:end]
	if name == "" {
		return ""
	}
	return name
}

// EscapeSlashCommand 行首是未知 "/command" 时加零宽标记；已知命令原样放行
// EscapeSlashCommand prepends the zero-width marker when the prompt starts
// with a /command the interpreter does not know. Known commands pass through
// verbatim, as does anything that is not a command at all.
func EscapeSlashCommand(text string, known map[string]struct{}) string {
	name := leadingCommandName(text)
	if name == "" {
		return text
	}
	if _, ok := known[name]; ok {
		return text
	}
	return commandEscapeMarker + text
}

// escapeSlashCommandBlocks 对首个 text 块应用同样的规则
// escapeSlashCommandBlocks applies the same rule to the first text block.
func escapeSlashCommandBlocks(blocks []agentapi.ContentBlock, known map[string]struct{}) []agentapi.ContentBlock {
	for i, block := range blocks {
		text, ok := block.(agentapi.TextBlock)
		if !ok {
			continue
		}
		escaped := EscapeSlashCommand(text.Text, known)
		if escaped != text.Text {
			out := append([]agentapi.ContentBlock(nil), blocks...)
			out[i] = agentapi.TextBlock{Text: escaped}
			return out
		}
		return blocks
	}
	return blocks
}

// commandSet 把命令名列表转成查找集合 / commandSet builds the lookup set.
func commandSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimPrefix(strings.TrimSpace(name), "/")
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}
