package streamparser_test

import (
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/streamparser"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func TestParser_Feed(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantKind streamparser.Kind
		wantTool string
	}{
		{
			name:     "assistant text",
			line:     `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`,
			wantKind: streamparser.KindAssistant,
		},
		{
			name:     "tool use nested in message",
			line:     `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}`,
			wantKind: streamparser.KindToolUse,
			wantTool: "Bash",
		},
		{
			name:     "flat tool use",
			line:     `{"type":"tool_use","tool_name":"read_file","input":{"path":"a.go"}}`,
			wantKind: streamparser.KindToolUse,
			wantTool: "read_file",
		},
		{
			name:     "tool result",
			line:     `{"type":"tool_result","tool_name":"read_file","output":"package main"}`,
			wantKind: streamparser.KindToolResult,
			wantTool: "read_file",
		},
		{
			name:     "error frame",
			line:     `{"type":"error","error":"boom"}`,
			wantKind: streamparser.KindError,
		},
		{
			name:     "turn result",
			line:     `{"type":"result","turns":3,"cost_usd":0.02,"duration_ms":1500}`,
			wantKind: streamparser.KindResult,
		},
		{
			name:     "system notice",
			line:     `{"type":"system","subtype":"init"}`,
			wantKind: streamparser.KindSystem,
		},
		{
			name:     "malformed json becomes error",
			line:     `{"type":"assistant", not json`,
			wantKind: streamparser.KindError,
		},
		{
			name:     "non-json passthrough",
			line:     "plain stderr line",
			wantKind: streamparser.KindRaw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := streamparser.New("log:worker-1")
			events := p.Feed([]byte(tt.line + "\n"))
			testutil.AssertLen(t, events, 1)
			testutil.AssertEqual(t, events[0].Kind, tt.wantKind)
			if tt.wantTool != "" {
				testutil.AssertEqual(t, events[0].ToolName, tt.wantTool)
			}
			testutil.AssertEqual(t, events[0].Topic(), "log:worker-1")
		})
	}
}

func TestParser_PartialLineBuffering(t *testing.T) {
	p := streamparser.New("log:worker-1")

	first := p.Feed([]byte(`{"type":"assistant","text":"hel`))
	testutil.AssertLen(t, first, 0)

	second := p.Feed([]byte("lo\"}\n"))
	testutil.AssertLen(t, second, 1)
	testutil.AssertEqual(t, second[0].Kind, streamparser.KindAssistant)
	testutil.AssertEqual(t, second[0].Text, "hello")
}

func TestParser_CloseFlushesTrailingPartialLine(t *testing.T) {
	p := streamparser.New("log:worker-1")
	testutil.AssertLen(t, p.Feed([]byte(`{"type":"assistant","text":"no newline"}`)), 0)

	events := p.Close()
	testutil.AssertLen(t, events, 1)
	testutil.AssertEqual(t, events[0].Kind, streamparser.KindAssistant)
}

func TestParser_TruncatesLongPreviews(t *testing.T) {
	p := streamparser.New("log:worker-1")
	longText := make([]byte, 400)
	for i := range longText {
		longText[i] = 'a'
	}
	line := `{"type":"assistant","text":"` + string(longText) + `"}`
	events := p.Feed([]byte(line + "\n"))
	testutil.AssertLen(t, events, 1)
	testutil.AssertContains(t, events[0].Text, "...[truncated]")
}
