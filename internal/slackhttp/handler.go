// Package slackhttp turns Slack slash commands and modal submissions into task
// start requests. The same handlers serve the HTTP endpoints and Socket Mode.
package slackhttp

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

	"github.com/slack-go/slack"
	"github.com/yosuke0517/dev-assistant-agent/internal/command"
)

const maxBodyBytes = 1 << 20

// ErrMissingFields is returned when a command lacks the repository or issue.
var ErrMissingFields = errors.New("repository and issue are required")

// StartRequest is a parsed request to run one task.
type StartRequest struct {
	Repo         string
	IssueID      string
	BaseBranch   string
	BranchName   string
	UserRequest  string
	RelatedRepos []command.RelatedRepo
	ChannelID    string
	UserID       string
	RawCommand   string
	// Source names the intake path: slash, modal, http or cli.
	Source string
}

// Starter begins a task without waiting for it to finish and returns its ID.
type Starter interface {
	Start(ctx context.Context, req StartRequest) (string, error)
}

type StarterFunc func(ctx context.Context, req StartRequest) (string, error)

func (f StarterFunc) Start(ctx context.Context, req StartRequest) (string, error) {
	return f(ctx, req)
}

type ViewOpener interface {
	OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error
}

// ClientViewOpener opens views through the Slack Web API.
type ClientViewOpener struct {
	Client *slack.Client
}

func (o ClientViewOpener) OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error {
	if o.Client == nil {
		return fmt.Errorf("slack client is not configured")
	}
	_, err := o.Client.OpenViewContext(ctx, triggerID, view)
	return err
}

// ParseCommandText parses "<repo> <issue> [base] [request...] [--related name[:branch]]...".
func ParseCommandText(text, channelID string) (StartRequest, error) {
	cleaned, related := command.ExtractRelatedRepos(strings.TrimSpace(text))
	in := command.ParseInput(cleaned)
	if in.Repo == "" || in.IssueID == "" {
		return StartRequest{}, ErrMissingFields
	}
	return StartRequest{
		Repo:         in.Repo,
		IssueID:      in.IssueID,
		BaseBranch:   in.BaseBranch,
		UserRequest:  in.UserRequest,
		RelatedRepos: related,
		ChannelID:    strings.TrimSpace(channelID),
		RawCommand:   command.RawCommand(in.Repo, in.IssueID, in.BaseBranch),
	}, nil
}

type Options struct {
	SigningSecret string
	Catalog       *command.Catalog
	Logger        *slog.Logger
}

type Handler struct {
	starter Starter
	opener  ViewOpener
	secret  string
	catalog *command.Catalog
	logger  *slog.Logger
}

func New(starter Starter, opener ViewOpener, opts Options) *Handler {
	if opts.Catalog == nil {
		opts.Catalog = command.DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		starter: starter,
		opener:  opener,
		secret:  strings.TrimSpace(opts.SigningSecret),
		catalog: opts.Catalog,
		logger:  opts.Logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/do", h.serveSlashCommand)
	mux.HandleFunc("/slack/interactions", h.serveInteraction)
}

// HandleSlashCommand starts a task from command text, or opens the task modal
// when the text is empty. The returned text is the ephemeral reply.
func (h *Handler) HandleSlashCommand(ctx context.Context, cmd slack.SlashCommand) (string, error) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		triggerID := strings.TrimSpace(cmd.TriggerID)
		if triggerID == "" {
			return "", fmt.Errorf("trigger_id is required; run the command from Slack")
		}
		if h.opener == nil {
			return "", fmt.Errorf("modal is not available")
		}
		if err := h.opener.OpenView(ctx, triggerID, BuildDoModal(h.catalog, cmd.ChannelID)); err != nil {
			h.logger.Error("slack_modal_open_failed", "channel", cmd.ChannelID, "error", err.Error())
			return "", fmt.Errorf("failed to open the modal: %w", err)
		}
		return "", nil
	}

	req, err := ParseCommandText(text, cmd.ChannelID)
	if err != nil {
		return fmt.Sprintf("Usage: %s <repo> <issue> [base-branch] [request...]", slashName(cmd.Command)), nil
	}
	req.UserID = strings.TrimSpace(cmd.UserID)
	req.Source = "slash"
	id, err := h.start(ctx, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Accepted `%s` (task %s)", req.RawCommand, id), nil
}

// HandleInteraction starts a task from a do_modal submission. Other payloads are ignored.
func (h *Handler) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error {
	if cb.Type != slack.InteractionTypeViewSubmission || cb.View.CallbackID != DoModalCallbackID {
		h.logger.Debug("slack_interaction_ignored", "type", string(cb.Type), "callback_id", cb.View.CallbackID)
		return nil
	}
	if cb.View.State == nil {
		return nil
	}
	meta, err := parseModalMetadata(cb.View.PrivateMetadata)
	if err != nil {
		h.logger.Error("slack_modal_metadata_invalid", "error", err.Error())
		return nil
	}
	in := ParseModalValues(cb.View.State.Values)
	if meta.ChannelID == "" || in.Repo == "" || in.IssueID == "" {
		h.logger.Warn("slack_modal_missing_fields",
			"channel", meta.ChannelID,
			"repo", in.Repo,
			"issue_id", in.IssueID,
		)
		return nil
	}
	_, err = h.start(ctx, StartRequest{
		Repo:        in.Repo,
		IssueID:     in.IssueID,
		BaseBranch:  in.BaseBranch,
		BranchName:  in.BranchName,
		UserRequest: in.UserRequest,
		ChannelID:   meta.ChannelID,
		UserID:      strings.TrimSpace(cb.User.ID),
		RawCommand:  command.RawCommand(in.Repo, in.IssueID, in.BaseBranch),
		Source:      "modal",
	})
	return err
}

func (h *Handler) start(ctx context.Context, req StartRequest) (string, error) {
	if h.starter == nil {
		return "", fmt.Errorf("task starter is not configured")
	}
	id, err := h.starter.Start(ctx, req)
	if err != nil {
		h.logger.Error("slack_task_start_failed", "source", req.Source, "raw_command", req.RawCommand, "error", err.Error())
		return "", err
	}
	h.logger.Info("slack_task_accepted", "task_id", id, "source", req.Source, "raw_command", req.RawCommand, "channel", req.ChannelID)
	return id, nil
}

func (h *Handler) serveSlashCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.verify(w, r) {
		return
	}
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "invalid slash command", http.StatusBadRequest)
		return
	}
	reply, err := h.HandleSlashCommand(r.Context(), cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, reply)
}

func (h *Handler) serveInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.verify(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(r.PostFormValue("payload")), &cb); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.HandleInteraction(r.Context(), cb); err != nil {
		h.logger.Warn("slack_interaction_error", "error", err.Error())
	}
	// An empty 200 closes the modal.
	w.WriteHeader(http.StatusOK)
}

// verify checks the request signature when a signing secret is configured and
// leaves the body readable for the caller.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if h.secret == "" {
		return true
	}
	verifier, err := slack.NewSecretsVerifier(r.Header, h.secret)
	if err == nil {
		_, err = verifier.Write(body)
	}
	if err == nil {
		err = verifier.Ensure()
	}
	if err != nil {
		h.logger.Warn("slack_signature_invalid", "path", r.URL.Path, "error", err.Error())
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return false
	}
	return true
}

func slashName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "/do"
	}
	return name
}
