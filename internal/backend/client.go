package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client issues the backend calls over HTTP. It holds no session state.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

var _ API = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTP(baseURL, timeout, nil)
}

func NewClientWithHTTP(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		http:    httpClient,
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var out LoginResult
	err := c.do(ctx, request{
		op:          "login",
		method:      http.MethodPost,
		path:        "/auth/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &out)
	if err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" || out.User.ID == 0 {
		return LoginResult{}, &CallError{Op: "login", Detail: "response missing access_token or user id", Err: ErrTransport}
	}
	return out, nil
}

func (c *Client) LinkIdentity(ctx context.Context, token, telegramUsername, email string) error {
	payload, err := json.Marshal(linkRequest{TelegramUsername: telegramUsername, Email: email})
	if err != nil {
		return &CallError{Op: "link_identity", Detail: "marshal request", Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	return c.do(ctx, request{
		op:          "link_identity",
		method:      http.MethodPost,
		path:        "/auth/telegram-link",
		body:        bytes.NewReader(payload),
		contentType: "application/json",
		token:       token,
	}, nil)
}

func (c *Client) ListTasks(ctx context.Context, token string, userID int64) ([]Task, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	var out []Task
	err := c.do(ctx, request{
		op:     "list_tasks",
		method: http.MethodGet,
		path:   "/tasks",
		query:  q,
		token:  token,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTask(ctx context.Context, token string, taskID int64) (Task, error) {
	var out Task
	err := c.do(ctx, request{
		op:     "get_task",
		method: http.MethodGet,
		path:   "/tasks/" + strconv.FormatInt(taskID, 10),
		token:  token,
	}, &out)
	if err != nil {
		return Task{}, err
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, token string, req CreateTaskRequest) (Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Task{}, &CallError{Op: "create_task", Detail: "marshal request", Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	var out Task
	err = c.do(ctx, request{
		op:          "create_task",
		method:      http.MethodPost,
		path:        "/tasks",
		body:        bytes.NewReader(payload),
		contentType: "application/json",
		token:       token,
	}, &out)
	if err != nil {
		return Task{}, err
	}
	return out, nil
}

func (c *Client) SearchByTag(ctx context.Context, token, tag string) ([]Task, error) {
	var out []Task
	err := c.do(ctx, request{
		op:     "search_by_tag",
		method: http.MethodGet,
		path:   "/tasks/by-tag/" + url.PathEscape(tag),
		token:  token,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	token       string
}

// do performs one call and classifies its outcome. out may be nil when the
// response body is not needed.
func (c *Client) do(ctx context.Context, r request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.method, target, r.body)
	if err != nil {
		return &CallError{Op: r.op, Detail: "create request", Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		httpReq.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return &CallError{Op: r.op, Detail: "send request", Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &CallError{Op: r.op, Status: res.StatusCode, Detail: "read response", Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &CallError{
			Op:     r.op,
			Status: res.StatusCode,
			Detail: errorDetail(body),
			Err:    classifyStatus(res.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &CallError{Op: r.op, Status: res.StatusCode, Detail: "malformed response", Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	return nil
}
