package slackhttp

import (
	"encoding/json"
	"strings"

	"github.com/slack-go/slack"
	"github.com/yosuke0517/dev-assistant-agent/internal/command"
)

const (
	DoModalCallbackID = "do_modal"

	blockRepository     = "repository"
	blockBranch         = "branch"
	blockPBI            = "pbi"
	blockBaseBranch     = "base_branch"
	blockFixDescription = "fix_description"
	actionValue         = "value"
)

type modalMetadata struct {
	ChannelID string `json:"channel_id"`
}

// ModalInput is what a human entered in the task modal.
type ModalInput struct {
	Repo        string
	BranchName  string
	IssueID     string
	BaseBranch  string
	UserRequest string
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

// BuildDoModal renders the task modal. channelID travels in private_metadata so
// the submission can be answered in the channel the command came from.
func BuildDoModal(catalog *command.Catalog, channelID string) slack.ModalViewRequest {
	if catalog == nil {
		catalog = command.DefaultCatalog()
	}
	aliases := catalog.Aliases()
	options := make([]*slack.OptionBlockObject, 0, len(aliases))
	for _, alias := range aliases {
		options = append(options, slack.NewOptionBlockObject(alias, plain(alias), nil))
	}
	repoSelect := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Select a repository"), actionValue, options...)

	description := slack.NewPlainTextInputBlockElement(nil, actionValue)
	description.Multiline = true

	baseBranch := slack.NewInputBlock(blockBaseBranch, plain("Base branch"), nil, slack.NewPlainTextInputBlockElement(nil, actionValue))
	baseBranch.Optional = true
	instructions := slack.NewInputBlock(blockFixDescription, plain("Instructions"), nil, description)
	instructions.Optional = true

	meta, _ := json.Marshal(modalMetadata{ChannelID: strings.TrimSpace(channelID)})
	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      DoModalCallbackID,
		PrivateMetadata: string(meta),
		Title:           plain("Instruct the agent"),
		Submit:          plain("Run"),
		Close:           plain("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewInputBlock(blockRepository, plain("Repository"), nil, repoSelect),
			slack.NewInputBlock(blockBranch, plain("Branch name"), nil, slack.NewPlainTextInputBlockElement(nil, actionValue)),
			slack.NewInputBlock(blockPBI, plain("PBI / issue number"), nil, slack.NewPlainTextInputBlockElement(nil, actionValue)),
			baseBranch,
			instructions,
		}},
	}
}

// ParseModalValues reads the submitted view state. Missing blocks read as empty.
func ParseModalValues(values map[string]map[string]slack.BlockAction) ModalInput {
	get := func(blockID string) string {
		action, ok := values[blockID][actionValue]
		if !ok {
			return ""
		}
		if v := strings.TrimSpace(action.SelectedOption.Value); v != "" {
			return v
		}
		return strings.TrimSpace(action.Value)
	}
	return ModalInput{
		Repo:        get(blockRepository),
		BranchName:  get(blockBranch),
		IssueID:     get(blockPBI),
		BaseBranch:  get(blockBaseBranch),
		UserRequest: get(blockFixDescription),
	}
}

func parseModalMetadata(raw string) (modalMetadata, error) {
	var meta modalMetadata
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return meta, nil
	}
	err := json.Unmarshal([]byte(raw), &meta)
	meta.ChannelID = strings.TrimSpace(meta.ChannelID)
	return meta, err
}
