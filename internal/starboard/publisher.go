package starboard

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/0x0BSoD/chess-bot/internal/model"
	"github.com/0x0BSoD/chess-bot/internal/notifier"
)

const (
	embedColor   = 15844367
	defaultEmoji = "⭐"
)

type MessageLookup interface {
	Message(ctx context.Context, channelID, messageID string) (model.ChatMessage, error)
}

type Poster interface {
	PostMessage(ctx context.Context, channelID string, msg notifier.Message) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg notifier.Message) error
}

// NotifierPublisher renders starboard posts from the reacted message and
// delivers them through the notifier.
type NotifierPublisher struct {
	poster    Poster
	messages  MessageLookup
	channelID string
	emoji     string
}

// NewNotifierPublisher posts into channelID. emoji is shown in the post
// content; when empty, the message's most used reaction is shown instead.
func NewNotifierPublisher(poster Poster, messages MessageLookup, channelID, emoji string) *NotifierPublisher {
	return &NotifierPublisher{
		poster:    poster,
		messages:  messages,
		channelID: channelID,
		emoji:     emoji,
	}
}

func (p *NotifierPublisher) Publish(ctx context.Context, evt model.ReactionEvent, reactors int) (string, error) {
	msg, err := p.messages.Message(ctx, evt.ChannelID, evt.MessageID)
	if err != nil {
		return "", fmt.Errorf("fetch message %s: %w", evt.MessageID, err)
	}

	return p.poster.PostMessage(ctx, p.channelID, p.render(msg, reactors))
}

func (p *NotifierPublisher) Update(ctx context.Context, starboardMessageID string, evt model.ReactionEvent, reactors int) error {
	msg, err := p.messages.Message(ctx, evt.ChannelID, evt.MessageID)
	if err != nil {
		return fmt.Errorf("fetch message %s: %w", evt.MessageID, err)
	}

	return p.poster.EditMessage(ctx, p.channelID, starboardMessageID, p.render(msg, reactors))
}

func (p *NotifierPublisher) render(msg model.ChatMessage, reactors int) notifier.Message {
	emoji := lo.CoalesceOrEmpty(p.emoji, msg.TopEmoji, defaultEmoji)

	return notifier.Message{
		Content: fmt.Sprintf("%d %s in <#%s>", reactors, emoji, msg.ChannelID),
		Embed: &notifier.Embed{
			AuthorName:    msg.AuthorName,
			AuthorIconURL: msg.AuthorAvatar,
			Description:   msg.Content,
			ImageURL:      msg.AttachmentURL,
			Color:         embedColor,
			Timestamp:     msg.Timestamp,
			Fields: []notifier.EmbedField{{
				Name:  "Message Link",
				Value: fmt.Sprintf("[Click to jump to message](%s)", MessageLink(msg)),
			}},
		},
	}
}

// MessageLink returns the jump URL of a message. Direct messages use "@me"
// as the guild.
func MessageLink(msg model.ChatMessage) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s",
		lo.CoalesceOrEmpty(msg.GuildID, "@me"), msg.ChannelID, msg.ID)
}
