package agentapi

import (
	"testing"
)

func TestDecodeEventSystemInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"abc-123","model":"opus-x","slash_commands":["commit","review"]}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	sys, ok := ev.(SystemEvent)
	if !ok {
		t.Fatalf("type: %T", ev)
	}
	if sys.Subtype != "init" || sys.AgentSessionID != "abc-123" || sys.Model != "opus-x" {
		t.Fatalf("system event: %+v", sys)
	}
	if len(sys.Commands) != 2 || sys.Commands[0] != "commit" {
		t.Fatalf("commands: %v", sys.Commands)
	}
}

func TestDecodeEventAssistant(t *testing.T) {
	line := `{"type":"assistant","message":{"model":"opus-x","content":[
		{"type":"text","text":"let me check"},
		{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}
	]}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	asst, ok := ev.(AssistantEvent)
	if !ok {
		t.Fatalf("type: %T", ev)
	}
	if asst.Model != "opus-x" || len(asst.Content) != 2 {
		t.Fatalf("assistant event: %+v", asst)
	}
	text, ok := asst.Content[0].(TextBlock)
	if !ok || text.Text != "let me check" {
		t.Fatalf("block 0: %#v", asst.Content[0])
	}
	use, ok := asst.Content[1].(ToolUseBlock)
	if !ok || use.ID != "t1" || use.Name != "Bash" {
		t.Fatalf("block 1: %#v", asst.Content[1])
	}
	if string(use.Input) != `{"command":"ls"}` {
		t.Fatalf("tool input: %s", use.Input)
	}
}

func TestDecodeEventAssistantError(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "error inside message",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}],"error":"overloaded"}}`,
			want: "overloaded",
		},
		{
			name: "error on envelope",
			line: `{"type":"assistant","error":"rate limited","message":{"content":[{"type":"text","text":"partial"}]}}`,
			want: "rate limited",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tc.line))
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if got := ev.(AssistantEvent).Error; got != tc.want {
				t.Fatalf("error: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeEventUser(t *testing.T) {
	line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"file.txt","is_error":false}]}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	user, ok := ev.(UserEvent)
	if !ok || user.Replay {
		t.Fatalf("user event: %#v", ev)
	}
	result, ok := user.Content[0].(ToolResultBlock)
	if !ok || result.ToolUseID != "t1" || result.Content != "file.txt" {
		t.Fatalf("tool_result: %#v", user.Content[0])
	}
}

func TestDecodeEventUserReplayFlag(t *testing.T) {
	line := `{"type":"user","isReplay":true,"message":{"content":[{"type":"text","text":"earlier prompt"}]}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if !ev.(UserEvent).Replay {
		t.Fatalf("replay flag lost")
	}
}

func TestDecodeEventUserStringContent(t *testing.T) {
	line := `{"type":"user","message":{"content":"plain words"}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	user := ev.(UserEvent)
	text, ok := user.Content[0].(TextBlock)
	if !ok || text.Text != "plain words" {
		t.Fatalf("content: %#v", user.Content)
	}
}

func TestDecodeEventResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","is_error":false,"total_cost_usd":0.02,"duration_ms":8000,"result":"done"}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	res, ok := ev.(ResultEvent)
	if !ok {
		t.Fatalf("type: %T", ev)
	}
	if res.Subtype != "success" || res.IsError || res.TotalCostUSD != 0.02 || res.DurationMS != 8000 || res.Result != "done" {
		t.Fatalf("result event: %+v", res)
	}
}

func TestDecodeEventResultError(t *testing.T) {
	line := `{"type":"result","subtype":"error_during_execution","is_error":true,"errors":["tool exploded"]}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	res := ev.(ResultEvent)
	if !res.IsError || len(res.Errors) != 1 || res.Errors[0] != "tool exploded" {
		t.Fatalf("result event: %+v", res)
	}
}

func TestDecodeEventUnknownTypeBecomesProgress(t *testing.T) {
	line := `{"type":"tool_progress","elapsed":4}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	prog, ok := ev.(ProgressEvent)
	if !ok || prog.Kind != "tool_progress" {
		t.Fatalf("progress event: %#v", ev)
	}
	if len(prog.Payload) == 0 {
		t.Fatalf("payload dropped")
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":`)); err == nil {
		t.Fatalf("malformed line must fail")
	}
}
