// Package streamparser transforms the agent's raw line-delimited JSON
// stdout into a typed event sequence (spec §4.3), generalizing the
// teacher's per-CLI stream parsers (ClaudeStreamParser, GeminiStreamParser,
// CodexStreamParser) into one shape-sniffing parser: this engine treats the
// agent as a single configured binary, not a roster of named CLIs, so
// there is exactly one wire format to recognize, leniently, by key shape.
package streamparser

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
)

// Kind names the canonical event shapes spec §4.3 requires the parser to
// recognize.
type Kind string

const (
	KindAssistant Kind = "assistant"
	KindToolUse   Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindError     Kind = "error"
	KindResult    Kind = "result"
	KindSystem    Kind = "system"
	KindRaw       Kind = "raw"
)

// previewLimit bounds content/input/raw previews (spec §4.3: 300 bytes for
// content previews, 200 bytes for unrecognized passthrough).
const (
	contentPreviewLimit = 300
	rawPreviewLimit     = 200
)

// Event is one parsed line, published on the Event Bus's "log:<worker_id>"
// topic (spec §4.2).
type Event struct {
	eventbus.BaseEvent
	Kind         Kind    `json:"kind"`
	Text         string  `json:"text,omitempty"`
	ToolName     string  `json:"tool_name,omitempty"`
	InputPreview string  `json:"input_preview,omitempty"`
	InputRaw     any     `json:"input_raw,omitempty"`
	Turns        int     `json:"turns,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
}

func newEvent(topic string, kind Kind) Event {
	return Event{BaseEvent: eventbus.NewBaseEvent(string(kind), topic), Kind: kind}
}

// rawLine is a permissive superset of every shape the parser recognizes;
// unknown keys are ignored, matching spec §4.3's "lenient to unknown keys".
type rawLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
			Input any    `json:"input"`
		} `json:"content"`
	} `json:"message"`

	Tool   string `json:"tool_name"`
	Input  any    `json:"input"`
	Output string `json:"output"`
	Result string `json:"result"`

	Text  string `json:"text"`
	Error string `json:"error"`

	Turns      int     `json:"turns"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMS int64   `json:"duration_ms"`
}

// Parser buffers partial lines from a streaming byte source and emits one
// Event per complete, recognized line.
type Parser struct {
	topic string
	buf   bytes.Buffer
}

// New creates a parser that publishes events on topic (normally
// eventbus.LogTopic(workerID)).
func New(topic string) *Parser {
	return &Parser{topic: topic}
}

// Feed appends chunk to the internal buffer and returns events for every
// complete line it now contains. Partial trailing data is held until the
// next Feed or Close.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf.Write(chunk)

	var events []Event
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		p.buf.Next(idx + 1)
		if ev, ok := p.parseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Close flushes any remaining buffered partial line as a final event.
func (p *Parser) Close() []Event {
	if p.buf.Len() == 0 {
		return nil
	}
	line := p.buf.String()
	p.buf.Reset()
	if ev, ok := p.parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// parseLine recognizes one line by shape (spec §4.3's table), robust to
// malformed JSON (emits Error rather than dropping the line silently).
func (p *Parser) parseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	if !strings.HasPrefix(line, "{") {
		ev := newEvent(p.topic, KindRaw)
		ev.Text = truncate(line, rawPreviewLimit)
		return ev, true
	}

	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		ev := newEvent(p.topic, KindError)
		ev.Text = "malformed stream line: " + err.Error()
		return ev, true
	}

	switch {
	case raw.Error != "" || raw.Type == "error":
		ev := newEvent(p.topic, KindError)
		ev.Text = raw.Error
		return ev, true

	case raw.Type == "system" || raw.Subtype == "init":
		ev := newEvent(p.topic, KindSystem)
		ev.Text = truncate(firstNonEmpty(raw.Text, raw.Subtype, raw.Type), contentPreviewLimit)
		return ev, true

	case raw.Type == "result" || raw.Subtype == "success" || raw.Turns > 0 || raw.CostUSD > 0 || raw.DurationMS > 0:
		ev := newEvent(p.topic, KindResult)
		ev.Turns = raw.Turns
		ev.CostUSD = raw.CostUSD
		ev.DurationMS = raw.DurationMS
		ev.Text = truncate(firstNonEmpty(raw.Result, raw.Text), contentPreviewLimit)
		return ev, true

	case raw.Type == "tool_result" || raw.Output != "":
		ev := newEvent(p.topic, KindToolResult)
		ev.ToolName = raw.Tool
		ev.Text = truncate(firstNonEmpty(raw.Output, raw.Result), contentPreviewLimit)
		return ev, true

	case raw.Type == "tool_use" || raw.Tool != "":
		ev := newEvent(p.topic, KindToolUse)
		ev.ToolName = raw.Tool
		ev.InputRaw = raw.Input
		ev.InputPreview = truncate(previewAny(raw.Input), contentPreviewLimit)
		return ev, true

	case raw.Message != nil:
		return p.parseMessage(raw.Message.Content)

	case raw.Text != "" || raw.Type == "assistant" || raw.Type == "text":
		ev := newEvent(p.topic, KindAssistant)
		ev.Text = truncate(raw.Text, contentPreviewLimit)
		return ev, true
	}

	ev := newEvent(p.topic, KindRaw)
	ev.Text = truncate(line, rawPreviewLimit)
	return ev, true
}

// parseMessage picks the first recognizable content block of an
// assistant-turn message (Claude/Gemini-style nested content arrays),
// preferring a tool_use block over plain text since it's the more specific
// event.
func (p *Parser) parseMessage(content []struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
	Input any    `json:"input"`
}) (Event, bool) {
	for _, c := range content {
		if c.Type == "tool_use" {
			ev := newEvent(p.topic, KindToolUse)
			ev.ToolName = c.Name
			ev.InputRaw = c.Input
			ev.InputPreview = truncate(previewAny(c.Input), contentPreviewLimit)
			return ev, true
		}
	}
	for _, c := range content {
		if c.Type == "text" && c.Text != "" {
			ev := newEvent(p.topic, KindAssistant)
			ev.Text = truncate(c.Text, contentPreviewLimit)
			return ev, true
		}
	}
	return Event{}, false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

func previewAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
