package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

// Lookup fetches messages for rendering starboard posts.
type Lookup struct {
	session *discordgo.Session
}

func NewLookup(session *discordgo.Session) *Lookup {
	return &Lookup{session: session}
}

func (l *Lookup) Message(ctx context.Context, channelID, messageID string) (model.ChatMessage, error) {
	m, err := l.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return model.ChatMessage{}, err
	}

	msg := chatMessage(m)
	if msg.GuildID == "" {
		// REST message objects omit the guild; the channel carries it.
		if ch, err := l.session.State.Channel(channelID); err == nil {
			msg.GuildID = ch.GuildID
		} else if ch, err := l.session.Channel(channelID, discordgo.WithContext(ctx)); err == nil {
			msg.GuildID = ch.GuildID
		}
	}

	return msg, nil
}

func chatMessage(m *discordgo.Message) model.ChatMessage {
	msg := model.ChatMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorAvatar = m.Author.AvatarURL("")
	}

	if len(m.Attachments) > 0 {
		msg.AttachmentURL = m.Attachments[0].URL
	}

	reactions := lo.Filter(m.Reactions, func(r *discordgo.MessageReactions, _ int) bool {
		return r != nil && r.Emoji != nil
	})
	if len(reactions) > 0 {
		top := lo.MaxBy(reactions, func(a, b *discordgo.MessageReactions) bool { return a.Count > b.Count })
		msg.TopEmoji = top.Emoji.MessageFormat()
	}

	return msg
}
