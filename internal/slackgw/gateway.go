package slackgw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 1 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultWaitTimeout  = 30 * time.Minute
	DefaultReplyLimit   = 10
)

var (
	// ErrNotConfigured is returned when the bot token is missing. No API call is made.
	ErrNotConfigured = errors.New("slack bot token is not configured")
	// ErrReplyTimeout is returned by WaitForReply when no qualifying reply arrived in time.
	ErrReplyTimeout = errors.New("no reply before timeout")
)

// ThreadRef names a chat thread. An empty ThreadTS addresses the channel itself.
type ThreadRef struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// Configured reports whether both the channel and the thread token are known.
func (r ThreadRef) Configured() bool {
	return strings.TrimSpace(r.Channel) != "" && strings.TrimSpace(r.ThreadTS) != ""
}

// Reply is a human message posted in a thread. Text is verbatim.
type Reply struct {
	Text string
	User string
	TS   string
}

// Gateway is the chat surface used by the tracker, the decision handlers and the orchestrator.
type Gateway interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
	WaitForReply(ctx context.Context, channel, threadTS, afterTS string, opts WaitOptions) (Reply, error)
}

// WebAPI is the subset of the Slack Web API the gateway calls.
type WebAPI interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
	ThreadReplies(ctx context.Context, channel, threadTS, oldest string, limit int) ([]slack.Message, error)
}

type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	ReplyLimit int
	// BotUserID is the bot's own user id (from auth.test). Messages by it are never replies.
	BotUserID string
	Logger    *slog.Logger
	Sleep     func(ctx context.Context, d time.Duration) error
	Now       func() time.Time
}

type Client struct {
	api        WebAPI
	maxRetries int
	baseDelay  time.Duration
	replyLimit int
	botUserID  string
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

func New(api WebAPI, opts Options) *Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.ReplyLimit <= 0 {
		opts.ReplyLimit = DefaultReplyLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepWithContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		api:        api,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		replyLimit: opts.ReplyLimit,
		botUserID:  strings.TrimSpace(opts.BotUserID),
		logger:     opts.Logger,
		sleep:      opts.Sleep,
		now:        opts.Now,
	}
}

// NewFromToken builds a client backed by slack-go. An empty token yields a client
// whose operations fail with ErrNotConfigured.
func NewFromToken(token string, opts Options, slackOpts ...slack.Option) *Client {
	token = strings.TrimSpace(token)
	if token == "" {
		return New(nil, opts)
	}
	return New(WrapClient(slack.New(token, slackOpts...)), opts)
}

// PostMessage sends text to channel, optionally inside threadTS, and returns the
// new message token. Transport failures are retried with exponential backoff;
// application rejections are not.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	channel = strings.TrimSpace(channel)
	threadTS = strings.TrimSpace(threadTS)
	if c == nil || c.api == nil {
		c.log().Error("slack_post_not_configured", "channel", channel)
		return "", ErrNotConfigured
	}
	if channel == "" {
		return "", fmt.Errorf("channel is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text is required")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		ts, err := c.api.PostMessage(ctx, channel, text, threadTS)
		if err == nil {
			return ts, nil
		}
		lastErr = err
		if IsAppRejection(err) {
			c.logger.Error("slack_post_rejected",
				"channel", channel,
				"thread_ts", threadTS,
				"error", err.Error(),
			)
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt >= c.maxRetries {
			break
		}
		wait := c.retryDelay(err, attempt)
		c.logger.Warn("slack_post_retry",
			"channel", channel,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"wait", wait.String(),
			"error", err.Error(),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	c.logger.Error("slack_post_failed",
		"channel", channel,
		"thread_ts", threadTS,
		"attempts", c.maxRetries+1,
		"error", lastErr.Error(),
	)
	return "", lastErr
}

// WaitForReply polls the thread until a human message newer than afterTS appears
// or the timeout passes. Fetch errors do not end the wait.
func (c *Client) WaitForReply(ctx context.Context, channel, threadTS, afterTS string, opts WaitOptions) (Reply, error) {
	channel = strings.TrimSpace(channel)
	threadTS = strings.TrimSpace(threadTS)
	afterTS = strings.TrimSpace(afterTS)
	if c == nil || c.api == nil {
		c.log().Error("slack_wait_not_configured", "channel", channel, "thread_ts", threadTS)
		return Reply{}, ErrNotConfigured
	}
	if channel == "" || threadTS == "" {
		return Reply{}, fmt.Errorf("channel and thread_ts are required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	deadline := c.now().Add(timeout)
	fetchFailed := false
	for c.now().Before(deadline) {
		msgs, err := c.api.ThreadReplies(ctx, channel, threadTS, afterTS, c.replyLimit)
		switch {
		case err != nil && ctx.Err() != nil:
			return Reply{}, ctx.Err()
		case err != nil:
			if !fetchFailed {
				c.logger.Error("slack_reply_fetch_error",
					"channel", channel,
					"thread_ts", threadTS,
					"error", err.Error(),
				)
			} else {
				c.logger.Debug("slack_reply_fetch_error", "channel", channel, "error", err.Error())
			}
			fetchFailed = true
		default:
			if reply, ok := c.firstReply(msgs, afterTS); ok {
				c.logger.Info("slack_reply_received",
					"channel", channel,
					"thread_ts", threadTS,
					"reply_ts", reply.TS,
					"user", reply.User,
				)
				return reply, nil
			}
		}
		if err := c.sleep(ctx, interval); err != nil {
			return Reply{}, err
		}
	}
	c.logger.Warn("slack_reply_timeout",
		"channel", channel,
		"thread_ts", threadTS,
		"timeout", timeout.String(),
		"fetch_errors", fetchFailed,
	)
	return Reply{}, ErrReplyTimeout
}

func (c *Client) firstReply(msgs []slack.Message, afterTS string) (Reply, bool) {
	for _, m := range msgs {
		if c.isBotMessage(m) {
			continue
		}
		if CompareTS(m.Msg.Timestamp, afterTS) <= 0 {
			continue
		}
		return Reply{
			Text: m.Msg.Text,
			User: strings.TrimSpace(m.Msg.User),
			TS:   strings.TrimSpace(m.Msg.Timestamp),
		}, true
	}
	return Reply{}, false
}

func (c *Client) isBotMessage(m slack.Message) bool {
	if strings.TrimSpace(m.Msg.BotID) != "" {
		return true
	}
	if m.Msg.SubType == "bot_message" {
		return true
	}
	if m.Msg.BotProfile != nil && strings.TrimSpace(m.Msg.BotProfile.AppID) != "" {
		return true
	}
	return c.botUserID != "" && strings.TrimSpace(m.Msg.User) == c.botUserID
}

func (c *Client) retryDelay(err error, attempt int) time.Duration {
	wait := c.baseDelay * time.Duration(1<<attempt)
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > wait {
		wait = rateLimited.RetryAfter
	}
	return wait
}

func (c *Client) log() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// IsAppRejection reports whether err is an application-level refusal by Slack
// (ok=false), as opposed to a transport problem.
func IsAppRejection(err error) bool {
	var apiErr slack.SlackErrorResponse
	return errors.As(err, &apiErr)
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config is the Slack section of the configuration.
type Config struct {
	BotToken      string
	AppToken      string
	SigningSecret string
	OwnerMemberID string
	// APIURL overrides https://slack.com/api/ (tests, proxies).
	APIURL       string
	Channel      string
	ThreadTS     string
	MaxRetries   int
	BaseDelay    time.Duration
	PollInterval time.Duration
}

// Connect builds the Web API client and the gateway. When a bot token is set,
// auth.test is called to learn the bot's own user id; a failure there is
// logged and the gateway falls back to bot_id filtering only.
func (c Config) Connect(ctx context.Context, logger *slog.Logger) (*Client, *slack.Client) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BaseDelay,
		Logger:     logger,
	}
	token := strings.TrimSpace(c.BotToken)
	if token == "" {
		return New(nil, opts), nil
	}
	var slackOpts []slack.Option
	if apiURL := strings.TrimSpace(c.APIURL); apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		slackOpts = append(slackOpts, slack.OptionAPIURL(apiURL))
	}
	api := slack.New(token, slackOpts...)
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		logger.Warn("slack_auth_test_failed", "error", err.Error())
	} else {
		opts.BotUserID = auth.UserID
		logger.Info("slack_auth_ok", "team", auth.Team, "bot_user_id", auth.UserID)
	}
	return New(WrapClient(api), opts), api
}
