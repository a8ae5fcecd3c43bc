package slackcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/slack-go/slack"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

const defaultSlackAPIURL = "https://slack.com/api"

var errSocketDisconnect = errors.New("slack socket disconnect requested")

// socketAPI opens Socket Mode connections with the app-level token.
type socketAPI struct {
	http     *http.Client
	baseURL  string
	appToken string
}

func newSocketAPI(httpClient *http.Client, baseURL, appToken string) *socketAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = defaultSlackAPIURL
	}
	return &socketAPI{
		http:     httpClient,
		baseURL:  baseURL,
		appToken: strings.TrimSpace(appToken),
	}
}

type openConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (api *socketAPI) openSocketURL(ctx context.Context) (string, error) {
	if api == nil {
		return "", fmt.Errorf("slack socket api is not initialized")
	}
	body, status, err := api.postAuthJSON(ctx, api.appToken, "/apps.connections.open")
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack apps.connections.open http %d", status)
	}
	var out openConnectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		code := strings.TrimSpace(out.Error)
		if code == "" {
			code = "unknown_error"
		}
		return "", fmt.Errorf("slack apps.connections.open failed: %s", code)
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return url, nil
}

func (api *socketAPI) connect(ctx context.Context) (*websocket.Conn, error) {
	url, err := api.openSocketURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (api *socketAPI) postAuthJSON(ctx context.Context, token, path string) ([]byte, int, error) {
	if api == nil || api.http == nil {
		return nil, 0, fmt.Errorf("slack socket api is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, fmt.Errorf("slack app token is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := api.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}
	return raw, resp.StatusCode, nil
}

type socketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type socketAck struct {
	EnvelopeID string `json:"envelope_id"`
	Payload    any    `json:"payload,omitempty"`
}

// consumeSocket reads envelopes until the connection fails, ctx ends or Slack
// asks for a reconnect. Each envelope with an id is acknowledged after
// onEnvelope returns, carrying its payload.
func consumeSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope socketEnvelope) any) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var envelope socketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if envelope.Type == "disconnect" {
			return errSocketDisconnect
		}
		var payload any
		if onEnvelope != nil {
			payload = onEnvelope(envelope)
		}
		if strings.TrimSpace(envelope.EnvelopeID) == "" {
			continue
		}
		if err := conn.WriteJSON(socketAck{EnvelopeID: envelope.EnvelopeID, Payload: payload}); err != nil {
			return err
		}
	}
}

// commandHandler is the part of slackhttp.Handler shared with Socket Mode.
type commandHandler interface {
	HandleSlashCommand(ctx context.Context, cmd slack.SlashCommand) (string, error)
	HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error
}

type slashReply struct {
	Text string `json:"text"`
}

func routeEnvelope(ctx context.Context, h commandHandler, logger *slog.Logger, envelope socketEnvelope) any {
	switch envelope.Type {
	case "slash_commands":
		var cmd slack.SlashCommand
		if err := json.Unmarshal(envelope.Payload, &cmd); err != nil {
			logger.Warn("slack_socket_payload_invalid", "type", envelope.Type, "error", err.Error())
			return nil
		}
		reply, err := h.HandleSlashCommand(ctx, cmd)
		if err != nil {
			return slashReply{Text: err.Error()}
		}
		if strings.TrimSpace(reply) == "" {
			return nil
		}
		return slashReply{Text: reply}
	case "interactive":
		var cb slack.InteractionCallback
		if err := json.Unmarshal(envelope.Payload, &cb); err != nil {
			logger.Warn("slack_socket_payload_invalid", "type", envelope.Type, "error", err.Error())
			return nil
		}
		if err := h.HandleInteraction(ctx, cb); err != nil {
			logger.Warn("slack_interaction_error", "error", err.Error())
		}
		return nil
	case "hello":
		logger.Debug("slack_socket_hello")
		return nil
	default:
		logger.Debug("slack_socket_envelope_ignored", "type", envelope.Type)
		return nil
	}
}

// runSocketMode keeps a Socket Mode connection open until ctx ends.
func runSocketMode(ctx context.Context, api *socketAPI, h commandHandler, logger *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			logger.Info("slack_socket_stop", "reason", "context_canceled")
			return nil
		}
		conn, err := api.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("slack_socket_stop", "reason", "context_canceled")
				return nil
			}
			logger.Warn("slack_socket_connect_error", "error", err.Error())
			if err := slackgw.SleepWithContext(ctx, 2*time.Second); err != nil {
				return nil
			}
			continue
		}
		logger.Info("slack_socket_connected")
		readErr := consumeSocket(ctx, conn, func(envelope socketEnvelope) any {
			return routeEnvelope(ctx, h, logger, envelope)
		})
		_ = conn.Close()
		switch {
		case readErr == nil, errors.Is(readErr, context.Canceled), errors.Is(readErr, context.DeadlineExceeded):
		case errors.Is(readErr, errSocketDisconnect):
			logger.Info("slack_socket_reconnect", "reason", "disconnect")
		default:
			logger.Warn("slack_socket_read_error", "error", readErr.Error())
		}
	}
}
