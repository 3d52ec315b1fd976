package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/taskibot/internal/reliability"
)

// maxMessageLen stays under the Bot API limit of 4096 characters.
const maxMessageLen = 3500

// allowedUpdates limits delivery to new messages.
var allowedUpdates = []string{"message"}

// APIError is a non-ok Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Retryable reports whether the call may succeed when repeated later.
func (e *APIError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *Client) GetMe(ctx context.Context) (User, error) {
	var out User
	err := c.call(ctx, "getMe", nil, &out)
	return out, err
}

// GetUpdates long-polls for updates starting at offset and returns the
// offset to use next.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	req := map[string]any{
		"timeout":         secs,
		"allowed_updates": allowedUpdates,
	}
	if offset > 0 {
		req["offset"] = offset
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	var updates []Update
	if err := c.call(reqCtx, "getUpdates", req, &updates); err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

// SendMessage sends text, split into chunks when long. keyboard, when set,
// is attached to the last chunk.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	chunks := splitText(text, maxMessageLen)
	for i, chunk := range chunks {
		req := sendMessageRequest{ChatID: chatID, Text: chunk, DisableWebPagePreview: true}
		if i == len(chunks)-1 && len(keyboard) > 0 {
			req.ReplyMarkup = replyKeyboard(keyboard)
		}
		if err := c.call(ctx, "sendMessage", req, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{
		URL:            url,
		SecretToken:    secret,
		AllowedUpdates: allowedUpdates,
	}, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", deleteWebhookRequest{DropPendingUpdates: dropPending}, nil)
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	var reader io.Reader
	httpMethod := http.MethodGet
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("telegram %s: marshal: %w", method, err)
		}
		reader = bytes.NewReader(b)
		httpMethod = http.MethodPost
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// The error text carries the URL, which carries the token.
		return fmt.Errorf("telegram %s: %s", method, strings.ReplaceAll(err.Error(), c.token, "<token>"))
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	_ = resp.Body.Close()

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Method: method, Code: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !parsed.OK {
		apiErr := &APIError{Method: method, Code: parsed.ErrorCode, Description: parsed.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if parsed.Parameters != nil {
			apiErr.RetryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out == nil || len(parsed.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func replyKeyboard(rows [][]string) *ReplyKeyboardMarkup {
	kb := &ReplyKeyboardMarkup{ResizeKeyboard: true}
	for _, row := range rows {
		buttons := make([]KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, KeyboardButton{Text: label})
		}
		kb.Keyboard = append(kb.Keyboard, buttons)
	}
	return kb
}

// splitText cuts text into chunks of at most max bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitText(text string, max int) []string {
	var out []string
	for len(text) > max {
		cut := strings.LastIndexByte(text[:max], '\n')
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8Start(text[cut]) {
				cut--
			}
		}
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
