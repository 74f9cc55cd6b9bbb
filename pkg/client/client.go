// Package client is a Go client for the botvisor control plane.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// APIError non-2xx 响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	client  *resty.Client
	baseURL string
	token   string
}

type CreateBotRequest struct {
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	LogPath     string   `json:"log_path,omitempty"`
	AutoRestart bool     `json:"auto_restart"`
	IsTemporary bool     `json:"is_temporary"`
}

func New(baseURL, token string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		// 只重试读请求：start/stop 不是幂等的
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() >= 500
		})
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{client: c, baseURL: baseURL, token: token}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "botctl")
	return r
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	r := c.newRequest(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Execute(method, endpoint)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	if resp.IsSuccess() {
		return nil
	}
	var eb struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(resp.Body()))
	if json.Unmarshal(resp.Body(), &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	return errors.WithStack(&APIError{Status: resp.StatusCode(), Message: msg})
}

func botPath(id int64, suffix string) string {
	return "/api/bots/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) ListBots(ctx context.Context) ([]BotState, error) {
	var out struct {
		Bots []BotState `json:"bots"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/bots/", nil, &out); err != nil {
		return nil, err
	}
	return out.Bots, nil
}

func (c *Client) CreateBot(ctx context.Context, req CreateBotRequest) (*Bot, error) {
	var b Bot
	if err := c.do(ctx, http.MethodPost, "/api/bots/", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) Status(ctx context.Context, id int64) (*BotState, error) {
	var st BotState
	if err := c.do(ctx, http.MethodGet, botPath(id, "/status"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) DeleteBot(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, botPath(id, ""), nil, nil)
}

type pidResponse struct {
	OK  bool `json:"ok"`
	PID int  `json:"pid"`
}

func (c *Client) Start(ctx context.Context, id int64) (int, error) {
	var out pidResponse
	if err := c.do(ctx, http.MethodPost, botPath(id, "/start"), nil, &out); err != nil {
		return 0, err
	}
	return out.PID, nil
}

func (c *Client) Stop(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, botPath(id, "/stop"), nil, nil)
}

func (c *Client) Restart(ctx context.Context, id int64) (int, error) {
	var out pidResponse
	if err := c.do(ctx, http.MethodPost, botPath(id, "/restart"), nil, &out); err != nil {
		return 0, err
	}
	return out.PID, nil
}

func (c *Client) Tail(ctx context.Context, id int64, n int) ([]LogEntry, error) {
	var out struct {
		Entries []LogEntry `json:"entries"`
	}
	endpoint := botPath(id, "/logs/tail") + "?n=" + strconv.Itoa(n)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) Logs(ctx context.Context, id int64, page, pageSize int) (*LogPage, error) {
	var out LogPage
	endpoint := fmt.Sprintf("%s?page=%d&page_size=%d", botPath(id, "/logs"), page, pageSize)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Follow subscribes to the live WebSocket feed and calls fn for every batch
// until ctx is done, the server closes the feed or fn fails.
func (c *Client) Follow(ctx context.Context, id int64, fn func([]LogEntry) error) error {
	u, err := url.Parse(c.baseURL + botPath(id, "/logs/ws"))
	if err != nil {
		return errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return errors.WithStack(&APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"})
		}
		return errors.Wrap(err, "dial log feed")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return errors.Wrap(err, "read log feed")
		}
		if len(msg) == 0 || msg[0] != '[' {
			// {"type":"connected"}
			continue
		}
		var batch []LogEntry
		if err := json.Unmarshal(msg, &batch); err != nil {
			return errors.Wrap(err, "decode log batch")
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}
