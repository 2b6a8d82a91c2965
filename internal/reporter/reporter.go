// Package reporter forwards operational failures of the bot to a Telegram
// admin chat.
package reporter

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxMessageLen = 4096
	// repeatWindow suppresses identical alerts, e.g. a database outage
	// reported once per reaction event.
	repeatWindow = 10 * time.Minute
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Reporter sends short error notification messages to a Telegram admin chat.
// It is nil-safe: if adminID is 0 or the receiver is nil, Notify is a no-op.
type Reporter struct {
	bot     Sender
	adminID int64

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func New(bot Sender, adminID int64) *Reporter {
	return &Reporter{
		bot:      bot,
		adminID:  adminID,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (r *Reporter) Notify(msg string) {
	if r == nil || r.adminID == 0 || r.bot == nil {
		return
	}
	if !r.shouldSend(msg) {
		return
	}

	if utf8.RuneCountInString(msg) > maxMessageLen {
		msg = string([]rune(msg)[:maxMessageLen-1]) + "…"
	}

	if _, err := r.bot.Send(tgbotapi.NewMessage(r.adminID, "chess-bot: "+msg)); err != nil {
		slog.Error("failed to send error notification", "err", err)
	}
}

func (r *Reporter) shouldSend(msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.lastSent[msg]; ok && now.Sub(last) < repeatWindow {
		return false
	}
	r.lastSent[msg] = now

	for k, t := range r.lastSent {
		if now.Sub(t) >= repeatWindow {
			delete(r.lastSent, k)
		}
	}
	return true
}
