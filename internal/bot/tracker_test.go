package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *clock                   { return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }

func TestMediaGroupTracker_Track(t *testing.T) {
	c := newClock()
	tracker := NewMediaGroupTracker(5*time.Second, 0)
	tracker.now = c.now

	assert.True(t, tracker.Track("g1"))
	assert.False(t, tracker.Track("g1"))
	assert.True(t, tracker.Track("g2"))
	assert.Equal(t, 2, tracker.Count("g1"))
	assert.Equal(t, 0, tracker.Count("missing"))

	// images keep an album alive while they keep arriving
	c.advance(4 * time.Second)
	assert.False(t, tracker.Track("g1"))

	c.advance(4 * time.Second)
	assert.Equal(t, 1, tracker.Sweep())
	assert.Equal(t, 1, tracker.Len())
	assert.Equal(t, 3, tracker.Count("g1"))

	c.advance(6 * time.Second)
	assert.True(t, tracker.Track("g1"), "expired album starts over")
	assert.Equal(t, 1, tracker.Count("g1"))
}

func TestMediaGroupTracker_Bounded(t *testing.T) {
	c := newClock()
	tracker := NewMediaGroupTracker(time.Minute, 3)
	tracker.now = c.now

	for i := 0; i < 3; i++ {
		tracker.Track(fmt.Sprintf("g%d", i))
		c.advance(time.Second)
	}
	tracker.Track("g3")

	assert.Equal(t, 3, tracker.Len())
	assert.Equal(t, 0, tracker.Count("g0"), "oldest group is evicted")
	assert.Equal(t, 1, tracker.Count("g3"))
}

func TestUserLimiter(t *testing.T) {
	c := newClock()
	limiter := NewUserLimiter(rate.Every(time.Second), 2, time.Minute)
	limiter.now = c.now

	assert.True(t, limiter.Allow(1))
	assert.True(t, limiter.Allow(1))
	assert.False(t, limiter.Allow(1))
	assert.True(t, limiter.Allow(2), "users have separate buckets")

	c.advance(time.Second)
	assert.True(t, limiter.Allow(1))

	c.advance(30 * time.Second)
	limiter.Allow(2)
	c.advance(45 * time.Second)
	assert.Equal(t, 1, limiter.Cleanup())
	assert.Equal(t, 1, limiter.Len())
}

func TestUserLimiter_Unlimited(t *testing.T) {
	limiter := NewUserLimiter(0, 0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow(7))
	}
}

type urlAPI struct {
	*fakeAPI
	base string
}

func (a urlAPI) GetFileDirectURL(fileID string) (string, error) {
	return a.base + "/file/" + fileID, nil
}

func TestFileFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file/small":
			w.Write([]byte("tiny"))
		case "/file/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := NewFileFetcher(urlAPI{fakeAPI: &fakeAPI{}, base: server.URL}, time.Second, 16)

	data, err := fetcher.Fetch(context.Background(), "small")
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), data)

	_, err = fetcher.Fetch(context.Background(), "big")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")

	_, err = fetcher.Fetch(context.Background(), "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 404")
}
