package lastfm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *metrics.Tracker) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tracker := metrics.NewTracker()
	c := NewClient(Options{
		BaseURL:       srv.URL + "/2.0/",
		APIKey:        "test-key",
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryInitial:  time.Millisecond,
		RetryMax:      5 * time.Millisecond,
	}, tracker)
	return c, tracker
}

func TestLookupByName(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "artist.getinfo", q.Get("method"))
		assert.Equal(t, "Artist A", q.Get("artist"))
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "json", q.Get("format"))
		fmt.Fprint(w, `{"artist":{"name":"Artist A","mbid":"11111111-1111-4111-8111-111111111111","url":"https://www.last.fm/music/Artist+A"}}`)
	})

	artist, err := c.LookupByName(context.Background(), "Artist A")
	require.NoError(t, err)
	require.NotNil(t, artist)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", artist.MBID)
	assert.Equal(t, "https://www.last.fm/music/Artist+A", artist.URL)
}

func TestSimilarDecodesStringAndNumberMatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "250", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"similarartists":{"artist":[
			{"name":"B","mbid":"22222222-2222-4222-8222-222222222222","match":"0.9","url":"u-b"},
			{"name":"C","mbid":"","match":0.4,"url":"u-c"}
		]}}`)
	})

	similar, err := c.SimilarByID(context.Background(), "11111111-1111-4111-8111-111111111111", 250)
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Equal(t, "B", similar[0].Name)
	assert.InDelta(t, 0.9, similar[0].Match, 1e-6)
	assert.Equal(t, "", similar[1].MBID)
	assert.InDelta(t, 0.4, similar[1].Match, 1e-6)
}

func TestTagsSingleObject(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "artist.gettoptags", r.URL.Query().Get("method"))
		fmt.Fprint(w, `{"toptags":{"tag":{"name":"rock","url":"https://www.last.fm/tag/rock","count":100}}}`)
	})

	tags, err := c.TagsByName(context.Background(), "Artist A", 0)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "rock", tags[0].Name)
	assert.Equal(t, 100, tags[0].Count)
}

func TestNotFoundIsEmpty(t *testing.T) {
	var calls atomic.Int32
	c, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":6,"message":"The artist you supplied could not be found"}`)
	})

	similar, err := c.SimilarByName(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, similar)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, tracker.GetSnapshot().NotFound)
}

func TestRetriesRateLimitAndServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, `{"similarartists":{"artist":[{"name":"B","mbid":"","match":"1","url":"u-b"}]}}`)
		}
	})

	similar, err := c.SimilarByName(context.Background(), "A", 10)
	require.NoError(t, err)
	assert.Len(t, similar, 1)
	assert.Equal(t, int32(3), calls.Load())

	snap := tracker.GetSnapshot()
	assert.Equal(t, 2, snap.Retries)
	assert.Equal(t, 1, snap.RateLimitHits)
	assert.Equal(t, 3, snap.RequestsSent)
}

func TestRateLimitErrorCodeIsRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `{"error":29,"message":"Rate limit exceeded"}`)
			return
		}
		fmt.Fprint(w, `{"similarartists":{"artist":[]}}`)
	})

	similar, err := c.SimilarByName(context.Background(), "A", 10)
	require.NoError(t, err)
	assert.Empty(t, similar)
	assert.Equal(t, int32(2), calls.Load())
}

func TestForbiddenIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.SimilarByID(context.Background(), "11111111-1111-4111-8111-111111111111", 10)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, tracker.GetSnapshot().Retries)
}

func TestInvalidKeyCodeIsTerminal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":10,"message":"Invalid API key"}`)
	})

	_, err := c.LookupByName(context.Background(), "A")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExhaustedRetriesReturnError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.SimilarByName(context.Background(), "A", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(3), calls.Load())
}
