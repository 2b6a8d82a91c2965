package reporter

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, s.err
}

func TestNotify_NilSafe(t *testing.T) {
	var r *Reporter
	r.Notify("boom")

	New(&fakeSender{}, 0).Notify("boom")
	New(nil, 42).Notify("boom")
}

func TestNotify_SendsToAdmin(t *testing.T) {
	s := &fakeSender{}
	New(s, 42).Notify("database is locked")

	require.Len(t, s.sent, 1)
	require.Equal(t, int64(42), s.sent[0].ChatID)
	require.Equal(t, "chess-bot: database is locked", s.sent[0].Text)
}

func TestNotify_SuppressesRepeats(t *testing.T) {
	s := &fakeSender{err: errors.New("telegram down")}
	r := New(s, 42)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Notify("same")
	r.Notify("same")
	r.Notify("other")
	require.Len(t, s.sent, 2)

	now = now.Add(repeatWindow)
	r.Notify("same")
	require.Len(t, s.sent, 3)
}

func TestNotify_Truncates(t *testing.T) {
	s := &fakeSender{}
	New(s, 42).Notify(strings.Repeat("x", 5000))

	require.LessOrEqual(t, utf8.RuneCountInString(s.sent[0].Text), maxMessageLen+len("chess-bot: "))
}
