package streamevent

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

const (
	textDisplayMax       = 300
	textActivityMax      = 100
	toolActivityMax      = 120
	toolResultDisplayMax = 200
	errorActivityMax     = 80
	resultDisplayMax     = 500
)

// ActivitySink receives short activity lines for the progress report.
type ActivitySink interface {
	AddActivity(text string)
}

// Interpreter echoes a human-readable transcript of the event stream and feeds
// notable events to an ActivitySink.
type Interpreter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

type InterpreterOption func(*Interpreter)

func WithClock(now func() time.Time) InterpreterOption {
	return func(in *Interpreter) {
		if now != nil {
			in.now = now
		}
	}
}

func NewInterpreter(out io.Writer, opts ...InterpreterOption) *Interpreter {
	if out == nil {
		out = os.Stdout
	}
	in := &Interpreter{out: out, now: time.Now}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Process handles one output line. Lines that are not JSON objects are echoed
// verbatim (when non-blank) and returned with Type TypeRaw. sink may be nil.
func (in *Interpreter) Process(line string, sink ActivitySink) Event {
	ev, ok := Parse(line)
	if !ok {
		if strings.TrimSpace(line) != "" {
			in.println(line)
		}
		return Event{Type: TypeRaw, Raw: line}
	}
	add := func(text string) {
		if sink != nil {
			sink.AddActivity(text)
		}
	}

	switch ev.Type {
	case TypeSystem:
		in.printf("📡 session started (session: %s)", ev.SessionID)
		if len(ev.Tools) > 0 {
			in.println("  available tools: " + strings.Join(ev.Tools, ", "))
		}
		add("📡 session started")

	case TypeAssistant:
		if ev.Message == nil {
			break
		}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if block.Text == "" {
					continue
				}
				in.printf("💬 agent: %s", preview(block.Text, textDisplayMax))
				add("💬 " + preview(block.Text, textActivityMax))
			case "tool_use":
				summary := SummarizeToolInput(block.Name, block.Input)
				in.printf("🔧 tool: %s %s", block.Name, summary)
				add(slackgw.Truncate("🔧 "+block.Name+" "+summary, toolActivityMax))
			}
		}

	case TypeUser:
		if ev.Message == nil {
			break
		}
		for _, block := range ev.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			content := block.ContentText()
			icon := "📋"
			if block.IsError {
				icon = "❌"
			}
			in.printf("%s tool result: %s", icon, preview(content, toolResultDisplayMax))
			if block.IsError {
				add("❌ error: " + slackgw.Truncate(content, errorActivityMax))
			}
		}

	case TypeResult:
		cost := "?"
		if v, ok := ev.Cost(); ok {
			cost = fmt.Sprintf("%.4f", v)
		}
		turns := "?"
		if ev.NumTurns > 0 {
			turns = fmt.Sprintf("%d", ev.NumTurns)
		}
		in.printf("✅ finished (cost: $%s, turns: %s, duration: %.1fs)", cost, turns, float64(ev.DurationMS)/1000)
		if ev.Result != "" {
			in.printf("📝 final result: %s", preview(ev.Result, resultDisplayMax))
		}
	}
	return ev
}

func (in *Interpreter) printf(format string, args ...any) {
	in.println(in.now().Format("[15:04:05] ") + fmt.Sprintf(format, args...))
}

func (in *Interpreter) println(line string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, _ = io.WriteString(in.out, line+"\n")
}

// preview truncates to max runes and appends "..." when something was cut.
func preview(text string, max int) string {
	cut := slackgw.Truncate(text, max)
	if len(cut) < len(text) {
		return cut + "..."
	}
	return cut
}
