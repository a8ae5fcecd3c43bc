package askcmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

type stubGateway struct {
	postTS   string
	postErr  error
	reply    slackgw.Reply
	replyErr error

	posts   []string
	afterTS string
	wait    slackgw.WaitOptions
}

func (g *stubGateway) PostMessage(_ context.Context, channel, text, threadTS string) (string, error) {
	g.posts = append(g.posts, channel+"|"+threadTS+"|"+text)
	return g.postTS, g.postErr
}

func (g *stubGateway) WaitForReply(_ context.Context, _, _, afterTS string, opts slackgw.WaitOptions) (slackgw.Reply, error) {
	g.afterTS = afterTS
	g.wait = opts
	return g.reply, g.replyErr
}

var testThread = slackgw.ThreadRef{Channel: "C1", ThreadTS: "1700000000.000001"}

func TestAskReturnsReply(t *testing.T) {
	gw := &stubGateway{postTS: "1700000000.000002", reply: slackgw.Reply{Text: "use option B"}}
	got, err := Ask(context.Background(), gw, testThread, " Which option? ", "A is faster, B is simpler", Options{Timeout: 10 * time.Minute, PollInterval: time.Second})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got.Text != "use option B" || got.TimedOut {
		t.Fatalf("answer mismatch: got %#v", got)
	}
	if len(gw.posts) != 1 {
		t.Fatalf("posts mismatch: got %d want 1", len(gw.posts))
	}
	want := "C1|1700000000.000001|❓ *Question from the agent*\n\nWhich option?\n\n📋 *Background*\nA is faster, B is simpler\n\n_Reply in this thread (within 10 minutes)_"
	if gw.posts[0] != want {
		t.Fatalf("post mismatch: got %q want %q", gw.posts[0], want)
	}
	if gw.afterTS != "1700000000.000002" {
		t.Fatalf("afterTS mismatch: got %q", gw.afterTS)
	}
	if gw.wait.Timeout != 10*time.Minute || gw.wait.Interval != time.Second {
		t.Fatalf("wait options mismatch: got %#v", gw.wait)
	}
}

func TestAskWithoutBackground(t *testing.T) {
	gw := &stubGateway{postTS: "1.2", reply: slackgw.Reply{Text: "ok"}}
	if _, err := Ask(context.Background(), gw, testThread, "Proceed?", "", Options{}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if strings.Contains(gw.posts[0], "Background") {
		t.Fatalf("unexpected background section: %q", gw.posts[0])
	}
	if !strings.Contains(gw.posts[0], "(within 30 minutes)") {
		t.Fatalf("default timeout missing: %q", gw.posts[0])
	}
}

func TestAskTimeout(t *testing.T) {
	gw := &stubGateway{postTS: "1.2", replyErr: slackgw.ErrReplyTimeout}
	got, err := Ask(context.Background(), gw, testThread, "Proceed?", "", Options{Timeout: 5 * time.Minute})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !got.TimedOut || !strings.Contains(got.Text, "within 5 minutes") {
		t.Fatalf("timeout answer mismatch: got %#v", got)
	}
}

func TestAskErrors(t *testing.T) {
	cases := []struct {
		name     string
		gw       *stubGateway
		thread   slackgw.ThreadRef
		question string
		want     string
	}{
		{name: "empty question", gw: &stubGateway{}, thread: testThread, question: "  ", want: "question is empty"},
		{name: "no thread", gw: &stubGateway{}, thread: slackgw.ThreadRef{Channel: "C1"}, question: "q", want: "not configured"},
		{name: "post failed", gw: &stubGateway{postErr: slackgw.ErrNotConfigured}, thread: testThread, question: "q", want: "post question"},
		{name: "no ts", gw: &stubGateway{}, thread: testThread, question: "q", want: "no message timestamp"},
		{name: "wait failed", gw: &stubGateway{postTS: "1.2", replyErr: context.Canceled}, thread: testThread, question: "q", want: "wait for reply"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Ask(context.Background(), tc.gw, tc.thread, tc.question, "", Options{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error mismatch: got %v want %q", err, tc.want)
			}
		})
	}
}

func TestAskPostErrorWraps(t *testing.T) {
	gw := &stubGateway{postErr: slackgw.ErrNotConfigured}
	_, err := Ask(context.Background(), gw, testThread, "q", "", Options{})
	if !errors.Is(err, slackgw.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
