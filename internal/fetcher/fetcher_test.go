package fetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0x0BSoD/chess-bot/internal/model"
	"github.com/0x0BSoD/chess-bot/internal/notifier"
	"github.com/0x0BSoD/chess-bot/internal/source"
	"github.com/0x0BSoD/chess-bot/internal/storage"
	"github.com/0x0BSoD/chess-bot/internal/storage/storagetest"
)

type fakeSource struct {
	mu      sync.Mutex
	entries map[string][]model.FeedEntry
	errs    map[string]error
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		entries: map[string][]model.FeedEntry{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (s *fakeSource) Fetch(_ context.Context, url string) ([]model.FeedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[url]++
	if err := s.errs[url]; err != nil {
		return nil, err
	}
	return s.entries[url], nil
}

type post struct {
	channel string
	msg     notifier.Message
}

type fakeNotifier struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (n *fakeNotifier) PostMessage(_ context.Context, channelID string, msg notifier.Message) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.err != nil {
		return "", n.err
	}
	n.posts = append(n.posts, post{channel: channelID, msg: msg})
	return "id", nil
}

func (n *fakeNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.posts))
	for _, p := range n.posts {
		out = append(out, p.msg.Embed.Title)
	}
	return out
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func entryAt(id string, offset time.Duration) model.FeedEntry {
	return model.FeedEntry{ID: id, Title: id, Published: base.Add(offset)}
}

const (
	feedA = "https://a.example.com/feed.atom"
	feedB = "https://b.example.com/feed.atom"
)

func TestPollAll_ReportsOnlyEntriesNewerThanWatermark(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	ctx := context.Background()

	T := base.UnixMilli()
	require.NoError(t, feeds.AdvanceWatermark(ctx, feedA, T))

	src := newFakeSource()
	// Out of order on purpose: posting must still be oldest first.
	src.entries[feedA] = []model.FeedEntry{
		entryAt("t+2", 2*time.Millisecond),
		entryAt("t-1", -time.Millisecond),
		entryAt("t", 0),
		entryAt("t+1", time.Millisecond),
	}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, time.Minute)
	require.NoError(t, f.PollAll(ctx))

	require.Equal(t, []string{"t+1", "t+2"}, n.titles())

	record, err := feeds.Watermark(ctx, feedA)
	require.NoError(t, err)
	require.Equal(t, T+2, record.LastUpdated)
}

func TestPollAll_FirstPollPostsAllEntries(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	src := newFakeSource()
	src.entries[feedA] = []model.FeedEntry{entryAt("b", time.Hour), entryAt("a", 0)}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1", RoleID: "r1"}}, time.Minute)
	require.NoError(t, f.PollAll(context.Background()))

	require.Equal(t, []string{"a", "b"}, n.titles())
	require.Equal(t, "r1", n.posts[0].msg.RoleID)
	require.Equal(t, "c1", n.posts[0].channel)

	record, err := feeds.Watermark(context.Background(), feedA)
	require.NoError(t, err)
	require.Equal(t, base.Add(time.Hour).UnixMilli(), record.LastUpdated)

	// A second cycle with the same entries posts nothing.
	require.NoError(t, f.PollAll(context.Background()))
	require.Len(t, n.posts, 2)
}

func TestPollAll_SkipBacklog(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	src := newFakeSource()
	src.entries[feedA] = []model.FeedEntry{entryAt("a", 0), entryAt("b", time.Minute)}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, time.Minute, WithSkipBacklog(true))
	require.NoError(t, f.PollAll(context.Background()))
	require.Empty(t, n.posts)

	record, err := feeds.Watermark(context.Background(), feedA)
	require.NoError(t, err)
	require.Equal(t, base.Add(time.Minute).UnixMilli(), record.LastUpdated)

	src.entries[feedA] = append(src.entries[feedA], entryAt("c", 2*time.Minute))
	require.NoError(t, f.PollAll(context.Background()))
	require.Equal(t, []string{"c"}, n.titles())
}

func TestPollAll_FetchFailureIsolated(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	ctx := context.Background()
	require.NoError(t, feeds.AdvanceWatermark(ctx, feedA, base.UnixMilli()))

	src := newFakeSource()
	src.errs[feedA] = &source.StatusError{URL: feedA, Code: 503}
	src.entries[feedB] = []model.FeedEntry{entryAt("b1", time.Second)}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{
		{URL: feedA, ChannelID: "c1"},
		{URL: feedB, ChannelID: "c2"},
	}, time.Minute)
	require.NoError(t, f.PollAll(ctx))

	require.Equal(t, []string{"b1"}, n.titles())

	record, err := feeds.Watermark(ctx, feedA)
	require.NoError(t, err)
	require.Equal(t, base.UnixMilli(), record.LastUpdated)

	// Failures are retried on the next cycle.
	require.NoError(t, f.PollAll(ctx))
	require.Equal(t, 2, src.calls[feedA])
}

func TestPollAll_WatermarkNeverDecreases(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	ctx := context.Background()
	require.NoError(t, feeds.AdvanceWatermark(ctx, feedA, base.UnixMilli()))

	src := newFakeSource()
	src.entries[feedA] = []model.FeedEntry{entryAt("old", -time.Hour)}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, time.Minute)
	require.NoError(t, f.PollAll(ctx))
	require.Empty(t, n.posts)

	record, err := feeds.Watermark(ctx, feedA)
	require.NoError(t, err)
	require.Equal(t, base.UnixMilli(), record.LastUpdated)
}

func TestPollAll_SharedURLFetchedOnce(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	src := newFakeSource()
	src.entries[feedA] = []model.FeedEntry{entryAt("a", 0)}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{
		{URL: feedA, ChannelID: "c1", RoleID: "r1"},
		{URL: feedA, ChannelID: "c2"},
	}, time.Minute)
	require.NoError(t, f.PollAll(context.Background()))

	require.Equal(t, 1, src.calls[feedA])
	require.Len(t, n.posts, 2)
	require.Equal(t, []string{"c1", "c2"}, []string{n.posts[0].channel, n.posts[1].channel})
	require.Equal(t, "r1", n.posts[0].msg.RoleID)
	require.Empty(t, n.posts[1].msg.RoleID)
}

func TestPollAll_NotifierFailureStillAdvances(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	src := newFakeSource()
	src.entries[feedA] = []model.FeedEntry{entryAt("a", 0)}
	n := &fakeNotifier{err: notifier.ErrSend}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, time.Minute)
	require.NoError(t, f.PollAll(context.Background()))

	record, err := feeds.Watermark(context.Background(), feedA)
	require.NoError(t, err)
	require.Equal(t, base.UnixMilli(), record.LastUpdated)
}

func TestPollAll_PersistenceErrorReturned(t *testing.T) {
	db := storagetest.NewTestDB(t)
	feeds := storage.NewFeedStorage(db)
	require.NoError(t, db.Close())

	src := newFakeSource()
	src.entries[feedA] = []model.FeedEntry{entryAt("a", 0)}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, time.Minute)
	err := f.PollAll(context.Background())
	require.ErrorIs(t, err, storage.ErrPersistence)
	require.Empty(t, n.posts)
}

func TestPollAll_EmptyFeedList(t *testing.T) {
	src := newFakeSource()
	f := New(nil, src, &fakeNotifier{}, nil, time.Minute)
	require.NoError(t, f.PollAll(context.Background()))
	require.Empty(t, src.calls)
}

func TestNewEntries_DeduplicatesByID(t *testing.T) {
	entries := []model.FeedEntry{
		entryAt("a", 0),
		entryAt("a", time.Minute),
		entryAt("b", 30*time.Second),
	}

	fresh := NewEntries(nil, entries)
	require.Len(t, fresh, 2)
	require.Equal(t, "b", fresh[0].ID)
	require.Equal(t, "a", fresh[1].ID)
	require.Equal(t, base.Add(time.Minute), fresh[1].Published)
}

func TestNewEntries_KeepsDistinctEntriesWithoutID(t *testing.T) {
	entries := []model.FeedEntry{
		{Content: "Lab 3 is due Friday.", Published: base},
		{Content: "Office hours moved to 3pm.", Published: base.Add(time.Hour)},
		{Content: "Office hours moved to 3pm.", Published: base.Add(time.Hour)},
	}

	fresh := NewEntries(nil, entries)
	require.Len(t, fresh, 2)
	require.Equal(t, "Lab 3 is due Friday.", fresh[0].Content)
	require.Equal(t, "Office hours moved to 3pm.", fresh[1].Content)
}

func TestPollAll_PostsEveryEntryWithoutID(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	src := newFakeSource()
	src.entries[feedA] = []model.FeedEntry{
		{Content: "first", Published: base},
		{Content: "second", Published: base.Add(time.Minute)},
	}
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, time.Minute)
	require.NoError(t, f.PollAll(context.Background()))

	require.Len(t, n.posts, 2)
	require.Equal(t, "first", n.posts[0].msg.Embed.Description)
	require.Equal(t, "second", n.posts[1].msg.Embed.Description)
}

func TestPollAll_EmptyFeedIsRecorded(t *testing.T) {
	feeds := storage.NewFeedStorage(storagetest.NewTestDB(t))
	ctx := context.Background()
	src := newFakeSource()
	n := &fakeNotifier{}

	f := New(feeds, src, n, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, time.Minute)
	require.NoError(t, f.PollAll(ctx))

	record, err := feeds.Watermark(ctx, feedA)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Zero(t, record.LastUpdated)

	// Entries appearing later are still new, whatever their timestamp.
	src.entries[feedA] = []model.FeedEntry{entryAt("a", -24*time.Hour)}
	require.NoError(t, f.PollAll(ctx))
	require.Equal(t, []string{"a"}, n.titles())
}

type blockingSource struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *blockingSource) Fetch(ctx context.Context, _ string) ([]model.FeedEntry, error) {
	s.calls.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil, errors.New("unreachable")
}

func TestStart_SkipsOverlappingTicks(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	f := New(nil, src, &fakeNotifier{}, []model.FeedTarget{{URL: feedA, ChannelID: "c1"}}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Start(ctx) }()

	require.Eventually(t, func() bool { return f.SkippedTicks() >= 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), src.calls.Load())

	close(src.release)
	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
