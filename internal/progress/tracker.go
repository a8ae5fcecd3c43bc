// Package progress batches worker activity and posts periodic progress reports
// into the task thread.
package progress

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultMaxBatch = 10
)

type Poster interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
}

type Options struct {
	Interval time.Duration
	MaxBatch int
	Logger   *slog.Logger
}

// Tracker buffers activity lines and flushes them on a timer. AddActivity is safe
// to call from the worker's reading goroutine while the timer goroutine flushes.
type Tracker struct {
	poster   Poster
	thread   slackgw.ThreadRef
	label    string
	interval time.Duration
	maxBatch int
	logger   *slog.Logger

	mu         sync.Mutex
	activities []string

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

func New(poster Poster, thread slackgw.ThreadRef, label string, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracker{
		poster:   poster,
		thread:   thread,
		label:    strings.TrimSpace(label),
		interval: opts.Interval,
		maxBatch: opts.MaxBatch,
		logger:   opts.Logger,
	}
}

// Start begins periodic flushing. It does nothing when no channel is known or
// when the tracker is already running. A stopped tracker may be started again.
func (t *Tracker) Start(ctx context.Context) {
	if strings.TrimSpace(t.thread.Channel) == "" {
		return
	}
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.stop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop = stop
	t.done = done
	go t.loop(ctx, stop, done)
}

// Stop cancels the timer and waits for the flush goroutine to exit. Buffered
// activities are kept. Calling Stop on a stopped tracker is a no-op.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.runMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (t *Tracker) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Flush(ctx)
		}
	}
}

func (t *Tracker) AddActivity(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.mu.Lock()
	t.activities = append(t.activities, text)
	t.mu.Unlock()
}

// Pending returns a copy of the buffered activities.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.activities...)
}

// Flush posts the most recent activities and clears the whole buffer. Older
// entries beyond the batch size are dropped. Post failures are logged only.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if len(t.activities) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.activities
	if len(batch) > t.maxBatch {
		batch = batch[len(batch)-t.maxBatch:]
	}
	batch = append([]string(nil), batch...)
	t.activities = nil
	t.mu.Unlock()

	if t.poster == nil {
		return
	}
	if _, err := t.poster.PostMessage(ctx, t.thread.Channel, FormatReport(t.label, batch), t.thread.ThreadTS); err != nil {
		t.logger.Warn("progress_flush_error",
			"channel", t.thread.Channel,
			"thread_ts", t.thread.ThreadTS,
			"activities", len(batch),
			"error", err.Error(),
		)
	}
}

func FormatReport(label string, activities []string) string {
	var b strings.Builder
	b.WriteString("⏳ *")
	b.WriteString(label)
	b.WriteString("* progress report")
	for _, a := range activities {
		b.WriteString("\n• ")
		b.WriteString(a)
	}
	return b.String()
}
