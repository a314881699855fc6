package session

import (
	"testing"

	"sessiond/internal/agentapi"
)

func TestEscapeSlashCommand(t *testing.T) {
	known := commandSet([]string{"commit", "/review"})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "unknown command", in: "/unknownCmd do X", want: "​/unknownCmd do X"},
		{name: "known command", in: "/commit", want: "/commit"},
		{name: "known command with args", in: "/commit -m msg", want: "/commit -m msg"},
		{name: "known command from slash-prefixed inventory", in: "/review", want: "/review"},
		{name: "not a command", in: "deploy the /etc changes", want: "deploy the /etc changes"},
		{name: "bare slash", in: "/", want: "/"},
		{name: "slash mid-sentence only", in: "run a/b", want: "run a/b"},
		{name: "unknown multiline", in: "/frobnicate\nline two", want: "​/frobnicate\nline two"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := EscapeSlashCommand(tc.in, known); got != tc.want {
				t.Fatalf("EscapeSlashCommand(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEscapeSlashCommandEmptyInventory(t *testing.T) {
	// With no known commands every leading /name is suspect.
	if got := EscapeSlashCommand("/commit", nil); got != "​/commit" {
		t.Fatalf("got %q", got)
	}
	if got := EscapeSlashCommand("plain", nil); got != "plain" {
		t.Fatalf("got %q", got)
	}
}

func TestLeadingCommandName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/commit", "commit"},
		{"/commit now", "commit"},
		{"/a\tb", "a"},
		{"/", ""},
		{"no slash", ""},
		{" /commit", ""},
	}
	for _, tc := range tests {
		if got := leadingCommandName(tc.in); got != tc.want {
			t.Errorf("leadingCommandName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeSlashCommandBlocks(t *testing.T) {
	known := commandSet([]string{"commit"})
	blocks := []agentapi.ContentBlock{
		agentapi.ImageBlock{ID: "img"},
		agentapi.TextBlock{Text: "/mystery"},
		agentapi.TextBlock{Text: "/another"},
	}
	out := escapeSlashCommandBlocks(blocks, known)

	// Only the first text block is considered, and the input is not mutated.
	if got := out[1].(agentapi.TextBlock).Text; got != "​/mystery" {
		t.Fatalf("first text block: %q", got)
	}
	if got := out[2].(agentapi.TextBlock).Text; got != "/another" {
		t.Fatalf("later text block must stay untouched: %q", got)
	}
	if blocks[1].(agentapi.TextBlock).Text != "/mystery" {
		t.Fatalf("input slice mutated")
	}
}

func TestCommandSetNormalization(t *testing.T) {
	set := commandSet([]string{"/commit", " review ", "", "/"})
	if len(set) != 2 {
		t.Fatalf("set size: got %d want 2 (%v)", len(set), set)
	}
	for _, name := range []string{"commit", "review"} {
		if _, ok := set[name]; !ok {
			t.Fatalf("missing %q in %v", name, set)
		}
	}
	if commandSet(nil) != nil {
		t.Fatalf("empty inventory must yield nil set")
	}
}
