package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

// discordEpoch is the first millisecond of 2015, the epoch of Discord IDs.
const discordEpoch = 1420070400000

const (
	submitTimeout = 10 * time.Second
	lookupTimeout = 10 * time.Second
)

// Intents are the gateway intents the bot needs.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMessageReactions

type EventSink interface {
	Submit(ctx context.Context, evt model.ReactionEvent) error
}

// Gateway forwards reaction events from the Discord gateway to an EventSink.
type Gateway struct {
	session *discordgo.Session
	sink    EventSink
}

func NewGateway(session *discordgo.Session, sink EventSink) *Gateway {
	return &Gateway{session: session, sink: sink}
}

// Register installs the gateway handlers. Call it before opening the session.
func (g *Gateway) Register() {
	g.session.Identify.Intents = Intents
	g.session.State.MaxMessageCount = 500

	g.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	g.session.AddHandler(g.onReactionAdd)
	g.session.AddHandler(g.onReactionRemove)
	g.session.AddHandler(g.onReactionRemoveAll)
}

func (g *Gateway) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if g.isSelf(s, r.UserID) {
		return
	}

	authorID, err := g.authorOf(s, r.ChannelID, r.MessageID)
	if err != nil {
		slog.Error("failed to resolve message author, dropping reaction", "message_id", r.MessageID, "err", err)
		return
	}

	evt := reactionEvent(model.ReactionAdded, r.MessageReaction)
	evt.AuthorID = authorID
	g.submit(evt)
}

func (g *Gateway) onReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if g.isSelf(s, r.UserID) {
		return
	}
	g.submit(reactionEvent(model.ReactionRemoved, r.MessageReaction))
}

func (g *Gateway) onReactionRemoveAll(_ *discordgo.Session, r *discordgo.MessageReactionRemoveAll) {
	g.submit(reactionEvent(model.ReactionsCleared, r.MessageReaction))
}

func (g *Gateway) submit(evt model.ReactionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	if err := g.sink.Submit(ctx, evt); err != nil {
		slog.Error("failed to queue reaction event", "kind", evt.Kind, "message_id", evt.MessageID, "err", err)
	}
}

func (g *Gateway) isSelf(s *discordgo.Session, userID string) bool {
	return s.State != nil && s.State.User != nil && s.State.User.ID == userID
}

func (g *Gateway) authorOf(s *discordgo.Session, channelID, messageID string) (string, error) {
	if m, err := s.State.Message(channelID, messageID); err == nil && m.Author != nil {
		return m.Author.ID, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	m, err := s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if m.Author == nil {
		return "", fmt.Errorf("message %s has no author", messageID)
	}
	return m.Author.ID, nil
}

func reactionEvent(kind model.ReactionKind, r *discordgo.MessageReaction) model.ReactionEvent {
	evt := model.ReactionEvent{
		Kind:        kind,
		MessageID:   r.MessageID,
		ChannelID:   r.ChannelID,
		GuildID:     r.GuildID,
		ReactorID:   r.UserID,
		MessageTime: messageTime(r.MessageID),
	}
	if kind != model.ReactionsCleared {
		evt.Emoji = r.Emoji.APIName()
	}
	return evt
}

// messageTime returns the creation time encoded in a Discord ID, or the zero
// time if id is not a snowflake.
func messageTime(id string) time.Time {
	sf, err := snowflake.ParseString(id)
	if err != nil || sf <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(sf.Int64()>>22 + discordEpoch).UTC()
}
