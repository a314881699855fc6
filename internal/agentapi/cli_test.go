package agentapi

import (
	"slices"
	"strings"
	"testing"
)

func TestBuildArgsDefaults(t *testing.T) {
	c := NewCLIClient("", nil)
	if c.path != "claude" {
		t.Fatalf("default path: %q", c.path)
	}

	var opts Options
	opts.Normalize()
	args := c.buildArgs(opts)

	base := []string{"--print", "--verbose", "--output-format", "stream-json", "--input-format", "stream-json"}
	if !slices.Equal(args[:len(base)], base) {
		t.Fatalf("base args: %v", args)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--permission-mode acceptEdits",
		"--max-turns 250",
		"--setting-sources project",
		"--system-prompt-preset claude_code",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
	if strings.Contains(joined, "--model") || strings.Contains(joined, "--resume") {
		t.Fatalf("unset options leaked into args: %q", joined)
	}
}

func TestBuildArgsFullOptions(t *testing.T) {
	c := NewCLIClient("agent", nil)
	opts := Options{
		Model:          "opus-x",
		PermissionMode: "plan",
		MaxTurns:       10,
		Resume:         "agent-1",
		AllowedTools:   []string{"Bash", "Read"},
		SettingSources: []string{"project", "user"},
		ExtraArgs:      map[string]string{"fast-mode": "1", "trace": ""},
	}
	opts.Normalize()
	joined := strings.Join(c.buildArgs(opts), " ")

	for _, want := range []string{
		"--model opus-x",
		"--permission-mode plan",
		"--max-turns 10",
		"--resume agent-1",
		"--allowed-tools Bash,Read",
		"--setting-sources project,user",
		"--fast-mode=1",
		"--trace",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
	// A valueless extra arg must stay a bare flag.
	if strings.Contains(joined, "--trace=") {
		t.Fatalf("bare flag gained a value: %q", joined)
	}
}

func TestOptionsNormalize(t *testing.T) {
	var opts Options
	opts.Normalize()
	if opts.PermissionMode != "acceptEdits" {
		t.Fatalf("permission mode: %q", opts.PermissionMode)
	}
	if opts.MaxTurns != 250 {
		t.Fatalf("max turns: %d", opts.MaxTurns)
	}
	if !slices.Equal(opts.SettingSources, []string{"project"}) {
		t.Fatalf("setting sources: %v", opts.SettingSources)
	}
	if opts.SystemPromptPreset != "claude_code" {
		t.Fatalf("system prompt preset: %q", opts.SystemPromptPreset)
	}

	// Explicit values survive normalization.
	set := Options{PermissionMode: "plan", MaxTurns: 5, SettingSources: []string{"user"}, SystemPromptPreset: "custom"}
	set.Normalize()
	if set.PermissionMode != "plan" || set.MaxTurns != 5 || set.SystemPromptPreset != "custom" {
		t.Fatalf("normalize clobbered explicit values: %+v", set)
	}
}

func TestListCommandsBeforeAnyInit(t *testing.T) {
	c := NewCLIClient("agent", nil)
	if _, err := c.ListCommands(t.Context()); err == nil {
		t.Fatalf("want error before any init event")
	}

	c.recordCommands([]string{"commit", "review"})
	cmds, err := c.ListCommands(t.Context())
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if !slices.Equal(cmds, []string{"commit", "review"}) {
		t.Fatalf("commands: %v", cmds)
	}

	// The returned slice is a copy.
	cmds[0] = "mutated"
	again, _ := c.ListCommands(t.Context())
	if again[0] != "commit" {
		t.Fatalf("internal inventory mutated: %v", again)
	}
}
