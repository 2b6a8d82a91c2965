package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <id>https://school.example.com/courses/42/announcements</id>
  <title>Course announcements</title>
  <updated>2024-03-02T10:00:00Z</updated>
  <entry>
    <id>tag:school.example.com,2024:announcement-2</id>
    <title>Midterm moved</title>
    <link href="https://school.example.com/a/2"/>
    <updated>2024-03-02T10:00:00Z</updated>
    <author><name>Prof. Smith</name></author>
    <author><name>TA Jones</name></author>
    <content type="html">&lt;p&gt;The midterm is now on Friday.&lt;/p&gt;</content>
  </entry>
  <entry>
    <id>tag:school.example.com,2024:announcement-1</id>
    <title>Welcome</title>
    <link href="https://school.example.com/a/1"/>
    <updated>2024-03-01T09:30:00Z</updated>
    <author><name>Prof. Smith</name></author>
    <content type="html">&lt;p&gt;Welcome to the course.&lt;/p&gt;</content>
  </entry>
</feed>`

const undatedEntry = `  <entry>
    <id>tag:school.example.com,2024:undated</id>
    <title>No date</title>
  </entry>
</feed>`

func feedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestGofeedSource_Fetch(t *testing.T) {
	srv := feedServer(t, http.StatusOK, strings.Replace(atomFeed, "</feed>", undatedEntry, 1))

	entries, err := New("gofeed", time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	require.Equal(t, "tag:school.example.com,2024:announcement-2", first.ID)
	require.Equal(t, "Midterm moved", first.Title)
	require.Equal(t, "https://school.example.com/a/2", first.Link)
	require.Equal(t, []string{"Prof. Smith", "TA Jones"}, first.Authors)
	require.Contains(t, first.Content, "The midterm is now on Friday.")
	require.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), first.Published)
}

func TestRSSSource_Fetch(t *testing.T) {
	srv := feedServer(t, http.StatusOK, atomFeed)

	entries, err := New("rss", time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, "Midterm moved", entries[0].Title)
}

func TestFetch_Errors(t *testing.T) {
	for _, parser := range []string{"gofeed", "rss"} {
		t.Run(parser, func(t *testing.T) {
			src := New(parser, time.Second)

			notFound := feedServer(t, http.StatusNotFound, "gone")
			_, err := src.Fetch(context.Background(), notFound.URL)
			require.ErrorIs(t, err, ErrFetch)

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, http.StatusNotFound, statusErr.Code)

			garbage := feedServer(t, http.StatusOK, "this is not a feed")
			_, err = src.Fetch(context.Background(), garbage.URL)
			require.ErrorIs(t, err, ErrMalformed)

			_, err = src.Fetch(context.Background(), "http://127.0.0.1:1/feed")
			require.ErrorIs(t, err, ErrFetch)
		})
	}
}

func TestGofeedSource_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	_, err := NewGofeedSource(&http.Client{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrFetch)
}

func TestExtractor_Extract(t *testing.T) {
	page := `<html><head><title>Announcement</title></head><body>
<article><h1>Room change</h1>
<p>Starting next week the lecture takes place in room 204 of the main building.
Please bring your laptops, we will work on the second assignment together.</p>
<p>Office hours stay the same and are held every Thursday afternoon.</p>
</article></body></html>`
	srv := feedServer(t, http.StatusOK, page)

	text, err := NewExtractor(http.DefaultClient).Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, text, "room 204")

	missing := feedServer(t, http.StatusInternalServerError, "")
	_, err = NewExtractor(http.DefaultClient).Extract(context.Background(), missing.URL)
	require.ErrorIs(t, err, ErrFetch)
}
