package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const DefaultRelayURL = "http://localhost:3000/api"

// Relay is the client's view of the relay API.
type Relay interface {
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, text string) (string, error)
	// StartRun returns the open event stream body; the caller closes it.
	StartRun(ctx context.Context, threadID string) (io.ReadCloser, error)
}

// StatusError is returned for non-2xx relay responses.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

// HTTPRelay speaks the relay's JSON/SSE contract over HTTP.
type HTTPRelay struct {
	baseURL string
	client  *http.Client
}

var _ Relay = &HTTPRelay{}

func NewHTTPRelay(baseURL string, client *http.Client) *HTTPRelay {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRelay{baseURL: baseURL, client: client}
}

func (r *HTTPRelay) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ThreadID string `json:"threadId"`
	}
	if err := r.postJSON(ctx, "create thread", "/threads", nil, &out); err != nil {
		return "", err
	}
	if out.ThreadID == "" {
		return "", errors.New("create thread: empty thread id")
	}
	return out.ThreadID, nil
}

func (r *HTTPRelay) PostMessage(ctx context.Context, threadID, text string) (string, error) {
	var out struct {
		MessageID string `json:"messageId"`
	}
	in := map[string]string{"message": text}
	if err := r.postJSON(ctx, "add message", "/threads/"+url.PathEscape(threadID)+"/messages", in, &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

func (r *HTTPRelay) StartRun(ctx context.Context, threadID string) (io.ReadCloser, error) {
	resp, err := r.do(ctx, "run assistant", "/threads/"+url.PathEscape(threadID)+"/runs", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (r *HTTPRelay) postJSON(ctx context.Context, op, path string, in, out any) error {
	resp, err := r.do(ctx, op, path, in)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}

// do POSTs to path; non-2xx responses are drained and returned as *StatusError.
func (r *HTTPRelay) do(ctx context.Context, op, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: encode request", op)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		se := &StatusError{Op: op, StatusCode: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
		}
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(b, &eb) == nil {
			se.Message = eb.Error
		}
		return nil, se
	}
	return resp, nil
}
