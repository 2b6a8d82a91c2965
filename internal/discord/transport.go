// Package discord adapts a discordgo session to the bot: it implements the
// notifier transport and turns gateway reaction events into starboard events.
package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/0x0BSoD/chess-bot/internal/notifier"
)

type Transport struct {
	session *discordgo.Session
}

func NewTransport(session *discordgo.Session) *Transport {
	return &Transport{session: session}
}

func (t *Transport) Send(ctx context.Context, channelID string, msg notifier.Message) (string, error) {
	send := &discordgo.MessageSend{
		Content:         notifier.MentionContent(msg),
		AllowedMentions: allowedMentions(msg),
	}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}

	created, err := t.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}

	return created.ID, nil
}

func (t *Transport) Edit(ctx context.Context, channelID, messageID string, msg notifier.Message) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(notifier.MentionContent(msg))
	edit.AllowedMentions = allowedMentions(msg)
	if msg.Embed != nil {
		edit = edit.SetEmbeds([]*discordgo.MessageEmbed{toEmbed(msg.Embed)})
	}

	_, err := t.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

// allowedMentions permits only the role the message explicitly mentions, so
// feed content can never ping @everyone.
func allowedMentions(msg notifier.Message) *discordgo.MessageAllowedMentions {
	mentions := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	if msg.RoleID != "" {
		mentions.Roles = []string{msg.RoleID}
	}
	return mentions
}

func toEmbed(e *notifier.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       e.Title,
		URL:         e.URL,
		Description: e.Description,
		Color:       e.Color,
		Fields: lo.Map(e.Fields, func(f notifier.EmbedField, _ int) *discordgo.MessageEmbedField {
			return &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline}
		}),
	}
	if e.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIconURL}
	}
	if e.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if !e.Timestamp.IsZero() {
		embed.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return embed
}
