// Package wanikani fetches the study queue and turns it into a schedule.PollResult.
package wanikani

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wknotifier/internal/schedule"
	logx "wknotifier/pkg/logx"
)

const (
	DefaultBaseURL   = "https://www.wanikani.com/api/v1.3"
	DefaultUserAgent = "wknotifier"
	DefaultTimeout   = 30 * time.Second

	maxResponseBodySize = 1 << 20 // 1MB
)

// FetchError is any transport, status or parse failure of one poll.
type FetchError struct {
	Op  string // "request", "status", "api", "decode", "field"
	Err error
}

func (e *FetchError) Error() string { return "wanikani " + e.Op + ": " + e.Err.Error() }

func (e *FetchError) Unwrap() error { return e.Err }

// APIError is the error object returned by the API in a 2xx body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type Config struct {
	BaseURL   string
	Key       string
	UserAgent string
	// Timeout bounds one Fetch, including reading the body.
	Timeout    time.Duration
	HTTPClient *http.Client
	Log        logx.Logger
	// Now is the local clock used for skew; defaults to time.Now.
	Now func() time.Time
}

// Client performs study-queue reads. It is safe for concurrent use.
type Client struct {
	endpoint  string
	userAgent string
	timeout   time.Duration
	http      *http.Client
	log       logx.Logger
	now       func() time.Time
}

func New(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, errors.New("wanikani: empty API key")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("wanikani: invalid base url: %w", err)
	}
	c := &Client{
		endpoint:  base + "/user/" + url.PathEscape(key) + "/study-queue",
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		http:      cfg.HTTPClient,
		log:       cfg.Log,
		now:       cfg.Now,
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		// no client-level timeout; Fetch bounds each request through ctx
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    2,
				IdleConnTimeout: 90 * time.Second,
			},
		}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

type studyQueue struct {
	Error                *APIError `json:"error"`
	RequestedInformation *struct {
		LessonsAvailable *int   `json:"lessons_available"`
		ReviewsAvailable *int   `json:"reviews_available"`
		NextReviewDate   *int64 `json:"next_review_date"`
	} `json:"requested_information"`
}

// Fetch performs one read of the study queue. Every failure is a *FetchError.
func (c *Client) Fetch(ctx context.Context) (schedule.PollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return schedule.PollResult{}, &FetchError{Op: "request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return schedule.PollResult{}, &FetchError{Op: "request", Err: redact(err)}
	}
	defer resp.Body.Close()
	received := c.now()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return schedule.PollResult{}, &FetchError{Op: "request", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var q studyQueue
		if json.Unmarshal(body, &q) == nil && q.Error != nil {
			return schedule.PollResult{}, &FetchError{Op: "status", Err: fmt.Errorf("%s: %w", resp.Status, q.Error)}
		}
		return schedule.PollResult{}, &FetchError{Op: "status", Err: errors.New(resp.Status)}
	}

	var q studyQueue
	if err := json.Unmarshal(body, &q); err != nil {
		return schedule.PollResult{}, &FetchError{Op: "decode", Err: err}
	}
	if q.Error != nil {
		return schedule.PollResult{}, &FetchError{Op: "api", Err: q.Error}
	}

	r, err := toResult(q)
	if err != nil {
		return schedule.PollResult{}, &FetchError{Op: "field", Err: err}
	}

	if date := resp.Header.Get("Date"); date != "" {
		if t, perr := http.ParseTime(date); perr == nil {
			r.ServerTimeSkew = t.Sub(received)
		} else {
			c.log.Debug("unparseable Date header; assuming no skew", logx.String("date", date), logx.Err(perr))
		}
	} else {
		c.log.Debug("response has no Date header; assuming no skew")
	}
	return r, nil
}

func toResult(q studyQueue) (schedule.PollResult, error) {
	ri := q.RequestedInformation
	if ri == nil {
		return schedule.PollResult{}, errors.New("missing requested_information")
	}
	switch {
	case ri.LessonsAvailable == nil:
		return schedule.PollResult{}, errors.New("missing lessons_available")
	case ri.ReviewsAvailable == nil:
		return schedule.PollResult{}, errors.New("missing reviews_available")
	case ri.NextReviewDate == nil:
		return schedule.PollResult{}, errors.New("missing next_review_date")
	case *ri.LessonsAvailable < 0:
		return schedule.PollResult{}, fmt.Errorf("negative lessons_available: %d", *ri.LessonsAvailable)
	case *ri.ReviewsAvailable < 0:
		return schedule.PollResult{}, fmt.Errorf("negative reviews_available: %d", *ri.ReviewsAvailable)
	}
	return schedule.PollResult{
		LessonsAvailable: *ri.LessonsAvailable,
		ReviewsAvailable: *ri.ReviewsAvailable,
		NextReviewAt:     time.Unix(*ri.NextReviewDate, 0),
	}, nil
}

// redact strips the request URL (which embeds the API key) from transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
