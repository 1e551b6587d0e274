package lastfm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Last.fm API endpoint
const DefaultBaseURL = "http://ws.audioscrobbler.com/2.0/"

// API error codes, see https://www.last.fm/api/errorcodes
const (
	codeAuthFailed        = 4
	codeNotFound          = 6
	codeSuspendedKey      = 9
	codeInvalidAPIKey     = 10
	codeUnauthorizedToken = 14
	codeKeySuspended      = 26
	codeRateLimitExceeded = 29
)

var (
	// ErrUnauthorized means the API key was rejected. It is never retried
	// and callers should stop the run.
	ErrUnauthorized = errors.New("lastfm: unauthorized")

	errRateLimited = errors.New("lastfm: rate limited")
)

// Options configures the client
type Options struct {
	BaseURL           string
	APIKey            string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	RetryAttempts     int
	RetryInitial      time.Duration
	RetryMax          time.Duration
}

// Client talks to the Last.fm API through a synchronous colly collector.
// It is safe for concurrent use.
type Client struct {
	opts      Options
	collector *colly.Collector
	limiter   *rate.Limiter
	tracker   *metrics.Tracker
}

// NewClient creates a client. Request counters are recorded on tracker.
func NewClient(opts Options, tracker *metrics.Tracker) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "artist-weaver/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = time.Second
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = opts.RetryInitial
	}
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	c := &Client{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		tracker: tracker,
	}
	c.setupColly()
	return c
}

// setupColly configures the collector. Responses of every status reach
// OnResponse so the status code and body can be classified here.
func (c *Client) setupColly() {
	c.collector = colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(c.opts.UserAgent),
	)
	c.collector.ParseHTTPErrorResponse = true
	c.collector.SetRequestTimeout(c.opts.Timeout)

	c.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("body", r.Body)
	})
}

// Artist is an artist as returned by artist.getinfo
type Artist struct {
	MBID string `json:"mbid"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Similar is one entry of artist.getsimilar
type Similar struct {
	Artist
	Match float32
}

// Tag is one entry of artist.gettoptags
type Tag struct {
	Name  string
	URL   string
	Count int
}

// LookupByName resolves an artist by name. It returns nil when the artist
// does not exist.
func (c *Client) LookupByName(ctx context.Context, name string) (*Artist, error) {
	var resp struct {
		Artist *Artist `json:"artist"`
	}
	found, err := c.call(ctx, url.Values{"method": {"artist.getinfo"}, "artist": {name}}, &resp)
	if err != nil || !found {
		return nil, err
	}
	return resp.Artist, nil
}

// SimilarByID lists artists similar to the given MusicBrainz id
func (c *Client) SimilarByID(ctx context.Context, mbid string, limit int) ([]Similar, error) {
	return c.similar(ctx, url.Values{"method": {"artist.getsimilar"}, "mbid": {mbid}}, limit)
}

// SimilarByName lists artists similar to the named artist
func (c *Client) SimilarByName(ctx context.Context, name string, limit int) ([]Similar, error) {
	return c.similar(ctx, url.Values{"method": {"artist.getsimilar"}, "artist": {name}}, limit)
}

// TagsByID lists the top tags of the given MusicBrainz id
func (c *Client) TagsByID(ctx context.Context, mbid string, limit int) ([]Tag, error) {
	return c.tags(ctx, url.Values{"method": {"artist.gettoptags"}, "mbid": {mbid}}, limit)
}

// TagsByName lists the top tags of the named artist
func (c *Client) TagsByName(ctx context.Context, name string, limit int) ([]Tag, error) {
	return c.tags(ctx, url.Values{"method": {"artist.gettoptags"}, "artist": {name}}, limit)
}

func (c *Client) similar(ctx context.Context, params url.Values, limit int) ([]Similar, error) {
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		SimilarArtists struct {
			Artist oneOrMany[similarJSON] `json:"artist"`
		} `json:"similarartists"`
	}
	found, err := c.call(ctx, params, &resp)
	if err != nil || !found {
		return nil, err
	}

	out := make([]Similar, 0, len(resp.SimilarArtists.Artist))
	for _, s := range resp.SimilarArtists.Artist {
		out = append(out, Similar{
			Artist: Artist{MBID: s.MBID, Name: s.Name, URL: s.URL},
			Match:  float32(s.Match),
		})
	}
	return out, nil
}

func (c *Client) tags(ctx context.Context, params url.Values, limit int) ([]Tag, error) {
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		TopTags struct {
			Tag oneOrMany[tagJSON] `json:"tag"`
		} `json:"toptags"`
	}
	found, err := c.call(ctx, params, &resp)
	if err != nil || !found {
		return nil, err
	}

	out := make([]Tag, 0, len(resp.TopTags.Tag))
	for _, t := range resp.TopTags.Tag {
		out = append(out, Tag{Name: t.Name, URL: t.URL, Count: int(t.Count)})
	}
	return out, nil
}

// call performs one API method with retries. found is false when the API
// reported the entity as missing.
func (c *Client) call(ctx context.Context, params url.Values, out any) (found bool, err error) {
	params.Set("api_key", c.opts.APIKey)
	params.Set("format", "json")
	reqURL := c.opts.BaseURL + "?" + params.Encode()
	method := params.Get("method")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.RetryInitial
	policy.MaxInterval = c.opts.RetryMax
	policy.MaxElapsedTime = 0

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		c.tracker.IncrementRequestsSent()
		start := time.Now()
		status, body, err := c.get(reqURL)
		c.tracker.RecordFetchTime(time.Since(start))
		if err != nil {
			c.tracker.IncrementRequestsFailed()
			return fmt.Errorf("%s request failed: %w", method, err)
		}

		found, err = c.decode(status, body, out)
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.tracker.IncrementRetries()
		logrus.Warnf("Retrying %s in %v: %v", method, wait, err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.RetryAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return false, err
	}
	return found, nil
}

// get fetches url and returns the status code and body captured by OnResponse
func (c *Client) get(reqURL string) (int, []byte, error) {
	rctx := colly.NewContext()
	if err := c.collector.Request(http.MethodGet, reqURL, nil, rctx, nil); err != nil {
		return 0, nil, err
	}

	status, _ := rctx.GetAny("status").(int)
	body, _ := rctx.GetAny("body").([]byte)
	return status, body, nil
}

type apiError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

// decode classifies a response. Errors wrapped in backoff.Permanent are not
// retried; every other error is.
func (c *Client) decode(status int, body []byte, out any) (bool, error) {
	body = bytes.TrimSpace(body)

	var apiErr apiError
	if len(body) > 0 && json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
		switch apiErr.Code {
		case codeNotFound:
			c.tracker.IncrementNotFound()
			return false, nil
		case codeRateLimitExceeded:
			c.tracker.IncrementRateLimitHits()
			return false, fmt.Errorf("%w: %s", errRateLimited, apiErr.Message)
		case codeAuthFailed, codeSuspendedKey, codeInvalidAPIKey, codeUnauthorizedToken, codeKeySuspended:
			return false, backoff.Permanent(fmt.Errorf("%w: error %d: %s", ErrUnauthorized, apiErr.Code, apiErr.Message))
		default:
			return false, fmt.Errorf("api error %d: %s", apiErr.Code, apiErr.Message)
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return false, backoff.Permanent(fmt.Errorf("%w: http %d", ErrUnauthorized, status))
	case status == http.StatusTooManyRequests:
		c.tracker.IncrementRateLimitHits()
		return false, errRateLimited
	case status != http.StatusOK:
		return false, fmt.Errorf("http %d", status)
	case len(body) == 0 || bytes.Equal(body, []byte("{}")):
		return false, errors.New("empty response body")
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
