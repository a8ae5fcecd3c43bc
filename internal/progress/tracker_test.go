package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPoster struct {
	mu    sync.Mutex
	texts []string
	err   error
	ch    chan string
}

func (p *recordingPoster) PostMessage(_ context.Context, channel, text, threadTS string) (string, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	err := p.err
	p.mu.Unlock()
	if p.ch != nil {
		p.ch <- text
	}
	return "1.1", err
}

func (p *recordingPoster) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFlushEmptyBufferPostsNothing(t *testing.T) {
	t.Parallel()

	p := &recordingPoster{}
	tr := New(p, slackgw.ThreadRef{Channel: "C1", ThreadTS: "1.0"}, "#42", Options{Logger: quietLogger()})
	tr.Flush(context.Background())
	if got := len(p.Texts()); got != 0 {
		t.Fatalf("posts mismatch: got %d want 0", got)
	}
}

func TestFlushKeepsLastTenAndClears(t *testing.T) {
	t.Parallel()

	p := &recordingPoster{}
	tr := New(p, slackgw.ThreadRef{Channel: "C1", ThreadTS: "1.0"}, "#42", Options{Logger: quietLogger()})
	for i := 1; i <= 15; i++ {
		tr.AddActivity(fmt.Sprintf("step %d", i))
	}
	tr.Flush(context.Background())

	texts := p.Texts()
	if len(texts) != 1 {
		t.Fatalf("posts mismatch: got %d want 1", len(texts))
	}
	want := "⏳ *#42* progress report"
	for i := 6; i <= 15; i++ {
		want += fmt.Sprintf("\n• step %d", i)
	}
	if diff := cmp.Diff(want, texts[0]); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if pending := tr.Pending(); len(pending) != 0 {
		t.Fatalf("buffer not cleared: %v", pending)
	}

	tr.Flush(context.Background())
	if got := len(p.Texts()); got != 1 {
		t.Fatalf("second flush posted: got %d posts", got)
	}
}

func TestFlushPostFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	p := &recordingPoster{err: errors.New("slack down")}
	tr := New(p, slackgw.ThreadRef{Channel: "C1", ThreadTS: "1.0"}, "#1", Options{Logger: quietLogger()})
	tr.AddActivity("a")
	tr.Flush(context.Background())
	if pending := tr.Pending(); len(pending) != 0 {
		t.Fatalf("buffer should be cleared even on failure: %v", pending)
	}
}

func TestStartWithoutChannelIsNoop(t *testing.T) {
	t.Parallel()

	p := &recordingPoster{}
	tr := New(p, slackgw.ThreadRef{}, "#1", Options{Interval: time.Millisecond, Logger: quietLogger()})
	tr.Start(context.Background())
	tr.AddActivity("a")
	time.Sleep(10 * time.Millisecond)
	tr.Stop()
	if got := len(p.Texts()); got != 0 {
		t.Fatalf("posts mismatch: got %d want 0", got)
	}
}

func TestTimerFlushesAndStopIsIdempotent(t *testing.T) {
	t.Parallel()

	p := &recordingPoster{ch: make(chan string, 4)}
	tr := New(p, slackgw.ThreadRef{Channel: "C1", ThreadTS: "1.0"}, "#7", Options{Interval: 5 * time.Millisecond, Logger: quietLogger()})
	tr.AddActivity("💬 hello")
	tr.Start(context.Background())
	tr.Start(context.Background())

	select {
	case text := <-p.ch:
		if text != "⏳ *#7* progress report\n• 💬 hello" {
			t.Fatalf("report mismatch: got %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not flush")
	}

	tr.Stop()
	tr.Stop()

	// Restart after stop for follow-up runs.
	tr.AddActivity("🔧 Bash > ls")
	tr.Start(context.Background())
	select {
	case <-p.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("restarted timer did not flush")
	}
	tr.Stop()
}

func TestConcurrentAddDuringFlush(t *testing.T) {
	t.Parallel()

	p := &recordingPoster{}
	tr := New(p, slackgw.ThreadRef{Channel: "C1"}, "#9", Options{Interval: time.Millisecond, Logger: quietLogger()})
	tr.Start(context.Background())
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.AddActivity(fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()
	tr.Stop()
	tr.Flush(context.Background())
	if pending := tr.Pending(); len(pending) != 0 {
		t.Fatalf("buffer not drained: %d left", len(pending))
	}
}
