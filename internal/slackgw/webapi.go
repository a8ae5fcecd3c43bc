package slackgw

import (
	"context"
	"strings"

	"github.com/slack-go/slack"
)

type slackWebAPI struct {
	client *slack.Client
}

// WrapClient adapts a slack-go client to WebAPI.
func WrapClient(client *slack.Client) WebAPI {
	return slackWebAPI{client: client}
}

func (a slackWebAPI) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if strings.TrimSpace(threadTS) != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := a.client.PostMessageContext(ctx, channel, options...)
	return ts, err
}

func (a slackWebAPI) ThreadReplies(ctx context.Context, channel, threadTS, oldest string, limit int) ([]slack.Message, error) {
	msgs, _, _, err := a.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Oldest:    oldest,
		Limit:     limit,
	})
	return msgs, err
}
