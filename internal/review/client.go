// Package review is the Telegram transport of the review channel: outbound
// photos and texts to one chat, and a long-poll loop for the reviewer's replies.
package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/andresmejia3/sentinel-watch/internal/metrics"
)

const (
	breakerName = "telegram"
	sendTimeout = 30 * time.Second
	// maxCaption is Telegram's caption limit for sendPhoto.
	maxCaption = 1024
	maxText    = 4096
)

// APIError is a response with "ok": false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// clientSide reports errors that retrying would not fix (bad chat, bad token).
func (e *APIError) clientSide() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// Options configures Client.
type Options struct {
	Token         string
	ChatID        int64
	APIURL        string
	PollTimeout   time.Duration
	RatePerSecond float64
	Burst         int
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// User is the subset of the Telegram user object we read.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is an inbound text message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// Update is one entry of getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// Client talks to the Bot API for a single chat. Outbound sends go through a
// rate limiter and a circuit breaker; getUpdates bypasses both.
type Client struct {
	http        *http.Client
	base        string
	chatID      int64
	pollTimeout time.Duration
	limiter     *rate.Limiter
	cb          *gobreaker.CircuitBreaker[*apiResponse]
	log         zerolog.Logger
}

func NewClient(opts Options, log zerolog.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		// Long polls hold the connection for PollTimeout.
		hc = &http.Client{Timeout: opts.PollTimeout + 15*time.Second}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		http:        hc,
		base:        strings.TrimRight(opts.APIURL, "/") + "/bot" + opts.Token,
		chatID:      opts.ChatID,
		pollTimeout: opts.PollTimeout,
		limiter:     rate.NewLimiter(limit, burst),
		log:         log,
	}

	metrics.BreakerState.WithLabelValues(breakerName).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[*apiResponse](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.clientSide()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("telegram circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// ChatID is the only chat this client sends to and accepts replies from.
func (c *Client) ChatID() int64 { return c.chatID }

// Me validates the token with getMe.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	resp, err := c.do(ctx, "getMe", "application/json", nil)
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal(resp.Result, &u); err != nil {
		return u, fmt.Errorf("decode getMe: %w", err)
	}
	return u, nil
}

// SendText posts a plain message to the review chat.
func (c *Client) SendText(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: truncate(text, maxText)})
	if err != nil {
		return err
	}
	return c.send(ctx, "sendMessage", "application/json", func() io.Reader { return bytes.NewReader(body) })
}

// SendPhotoWithCaption uploads a JPEG with a caption to the review chat.
func (c *Client) SendPhotoWithCaption(ctx context.Context, image []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(c.chatID, 10)); err != nil {
		return err
	}
	if err := w.WriteField("caption", truncate(caption, maxCaption)); err != nil {
		return err
	}
	part, err := w.CreateFormFile("photo", "capture.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	payload := buf.Bytes()
	return c.send(ctx, "sendPhoto", w.FormDataContentType(), func() io.Reader { return bytes.NewReader(payload) })
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body, err := json.Marshal(getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(c.pollTimeout / time.Second),
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, "getUpdates", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	return updates, nil
}

func (c *Client) send(ctx context.Context, method, contentType string, body func() io.Reader) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := c.cb.Execute(func() (*apiResponse, error) {
		return c.do(ctx, method, contentType, body())
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.log.Debug().Str("method", method).Msg("telegram send rejected by circuit breaker")
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, contentType string, body io.Reader) (*apiResponse, error) {
	httpMethod := http.MethodPost
	if body == nil {
		httpMethod = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.base+"/"+method, body)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram %s: read response: %w", method, err)
	}
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("telegram %s: HTTP %d: decode response: %w", method, res.StatusCode, err)
	}
	if !resp.OK {
		apiErr := &APIError{Method: method, Code: resp.ErrorCode, Description: resp.Description}
		if apiErr.Code == 0 {
			apiErr.Code = res.StatusCode
		}
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return nil, apiErr
	}
	return &resp, nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
