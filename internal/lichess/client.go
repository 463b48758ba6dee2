package lichess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/valyala/fasthttp"
)

const DefaultBaseURL = "https://lichess.org"

// DefaultStreamIdle bounds the silence on the event stream. Lichess sends a
// keep-alive newline every few seconds.
const DefaultStreamIdle = 30 * time.Second

var ErrExternalService = domain.ErrExternalService

// HeaderProvider allows injecting per-request headers.
type HeaderProvider func() map[string]string

// Client talks to the Lichess bot API over fasthttp.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	stream  *fasthttp.Client
	headers HeaderProvider
	token   string

	streamDial fasthttp.DialFunc
	streamIdle time.Duration

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDialer replaces the network dialer of both the request and the stream client.
func WithDialer(dial fasthttp.DialFunc) Option {
	return func(c *Client) {
		c.http.Dial = dial
		c.streamDial = dial
	}
}

// WithStreamIdle sets how long the event stream may stay silent before it is dropped.
func WithStreamIdle(d time.Duration) Option {
	return func(c *Client) { c.streamIdle = d }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		// fasthttp applies ReadTimeout once per response, which would cut a long-lived
		// stream. The idle deadline is renewed per read by the dialer instead.
		stream:         &fasthttp.Client{WriteTimeout: 10 * time.Second, StreamResponseBody: true},
		token:          strings.TrimSpace(token),
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		streamIdle:     DefaultStreamIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stream.Dial = idleDialer(c.streamDial, c.streamIdle)
	return c
}

// Account returns the bot account with its win/draw/loss counts.
func (c *Client) Account(ctx context.Context) (domain.Account, error) {
	var resp accountResponse
	if err := c.do(ctx, fasthttp.MethodGet, "/api/account", nil, nil, &resp, true); err != nil {
		return domain.Account{}, err
	}
	return domain.Account{
		ID:       resp.ID,
		Username: resp.Username,
		Wins:     resp.Count.Win,
		Draws:    resp.Count.Draw,
		Losses:   resp.Count.Loss,
	}, nil
}

// ListOngoing returns the account's ongoing games.
func (c *Client) ListOngoing(ctx context.Context) ([]domain.GameInfo, error) {
	var resp playingResponse
	q := url.Values{"nb": {"50"}}
	if err := c.do(ctx, fasthttp.MethodGet, "/api/account/playing", q, nil, &resp, true); err != nil {
		return nil, err
	}
	out := make([]domain.GameInfo, 0, len(resp.NowPlaying))
	for _, g := range resp.NowPlaying {
		info := g.toDomain()
		if info.GameID == "" {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// SubmitMove plays a long-form move. Move submission is never retried here.
func (c *Client) SubmitMove(ctx context.Context, gameID, move string) error {
	path := "/api/bot/game/" + url.PathEscape(gameID) + "/move/" + url.PathEscape(move)
	return c.do(ctx, fasthttp.MethodPost, path, nil, nil, nil, false)
}

func (c *Client) Resign(ctx context.Context, gameID string) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/bot/game/"+url.PathEscape(gameID)+"/resign", nil, nil, nil, false)
}

// CreateOpenChallenge creates a challenge anyone holding the URL can accept.
func (c *Client) CreateOpenChallenge(ctx context.Context, opts domain.ChallengeOptions) (domain.ChallengeInfo, error) {
	form := clockForm(opts)
	if opts.Rated {
		form.Set("rated", "true")
	}
	var resp challengeResponse
	if err := c.do(ctx, fasthttp.MethodPost, "/api/challenge/open", nil, form, &resp, false); err != nil {
		return domain.ChallengeInfo{}, err
	}
	info := resp.info()
	if info.ID == "" {
		return info, fmt.Errorf("%w: open challenge response without id", ErrExternalService)
	}
	if info.URL == "" {
		info.URL = c.baseURL + "/" + info.ID
	}
	return info, nil
}

// CreateAIChallenge starts a game against the Lichess AI at level 1..8.
func (c *Client) CreateAIChallenge(ctx context.Context, level int, opts domain.ChallengeOptions) (domain.ChallengeInfo, error) {
	form := clockForm(opts)
	form.Set("level", strconv.Itoa(level))
	var resp challengeResponse
	if err := c.do(ctx, fasthttp.MethodPost, "/api/challenge/ai", nil, form, &resp, false); err != nil {
		return domain.ChallengeInfo{}, err
	}
	return resp.info(), nil
}

func (c *Client) AcceptChallenge(ctx context.Context, id string) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/challenge/"+url.PathEscape(id)+"/accept", nil, nil, nil, false)
}

func (c *Client) DeclineChallenge(ctx context.Context, id string) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/challenge/"+url.PathEscape(id)+"/decline", nil, nil, nil, false)
}

// PlayerOnline reports whether userID is currently connected. Unknown users count as offline.
func (c *Client) PlayerOnline(ctx context.Context, userID string) (bool, error) {
	var resp []userStatus
	q := url.Values{"ids": {userID}}
	if err := c.do(ctx, fasthttp.MethodGet, "/api/users/status", q, nil, &resp, true); err != nil {
		return false, err
	}
	for _, u := range resp {
		if strings.EqualFold(u.ID, userID) {
			return u.Online, nil
		}
	}
	return false, nil
}

func clockForm(opts domain.ChallengeOptions) url.Values {
	form := url.Values{}
	if opts.ClockLimitSec > 0 {
		form.Set("clock.limit", strconv.Itoa(opts.ClockLimitSec))
		form.Set("clock.increment", strconv.Itoa(max(opts.ClockIncrementSec, 0)))
	}
	return form
}

func (c *Client) prepare(req *fasthttp.Request, method, path string, query url.Values) {
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if len(query) > 0 {
		args := req.URI().QueryArgs()
		for k, vs := range query {
			for _, v := range vs {
				args.Add(k, v)
			}
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	c.prepare(req, method, path, query)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		args := fasthttp.AcquireArgs()
		for k, vs := range form {
			for _, v := range vs {
				args.Add(k, v)
			}
		}
		req.Header.SetContentType("application/x-www-form-urlencoded")
		req.SetBody(args.QueryString())
		fasthttp.ReleaseArgs(args)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%w: %s %s: %w", ErrExternalService, method, path, err)
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if out != nil {
					if err := json.Unmarshal(resp.Body(), out); err != nil {
						return fmt.Errorf("%w: decode %s: %w", ErrExternalService, path, err)
					}
				}
				return nil
			}
			lastErr = &StatusError{Method: method, Path: path, Status: status, Body: truncate(string(resp.Body()), 512)}
			if !shouldRetryStatus(status) {
				return lastErr
			}
		}
		if attempt < attempts {
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: unknown error", ErrExternalService)
	}
	return lastErr
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lichess api error: %s %s status=%d body=%s", e.Method, e.Path, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrExternalService }

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == code
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isTimeout reports network timeouts, used by the stream reader to tell a dead
// connection from a closed one.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
