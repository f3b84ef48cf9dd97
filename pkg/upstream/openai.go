package upstream

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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	assistantVersion = "v2"
)

// Settings configures the vendor connection. An empty APIKey or AssistantID
// means the relay runs in local-only mode.
type Settings struct {
	APIKey      string
	AssistantID string
	BaseURL     string
	HTTPClient  *http.Client
}

func (s Settings) Configured() bool {
	return strings.TrimSpace(s.APIKey) != "" && strings.TrimSpace(s.AssistantID) != ""
}

// OpenAIAssistant talks to the OpenAI Assistants v2 API. Thread and message
// calls go through go-openai; runs are streamed over a raw SSE request because
// the SDK has no streaming run support.
type OpenAIAssistant struct {
	client      *openai.Client
	httpClient  *http.Client
	apiKey      string
	assistantID string
	baseURL     string
	logger      zerolog.Logger
}

var _ Assistant = &OpenAIAssistant{}

func NewOpenAIAssistant(s Settings) (*OpenAIAssistant, error) {
	if !s.Configured() {
		return nil, errors.New("openai assistant: api key and assistant id are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	cfg := openai.DefaultConfig(s.APIKey)
	cfg.BaseURL = baseURL
	cfg.AssistantVersion = assistantVersion
	cfg.HTTPClient = hc

	return &OpenAIAssistant{
		client:      openai.NewClientWithConfig(cfg),
		httpClient:  hc,
		apiKey:      s.APIKey,
		assistantID: s.AssistantID,
		baseURL:     baseURL,
		logger:      log.With().Str("component", "upstream").Logger(),
	}, nil
}

func (a *OpenAIAssistant) CreateThread(ctx context.Context) (string, error) {
	th, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", opError("create thread", err)
	}
	a.logger.Debug().Str("thread_id", th.ID).Msg("created thread")
	return th.ID, nil
}

func (a *OpenAIAssistant) PostMessage(ctx context.Context, threadID, text string) (string, error) {
	msg, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return "", opError("create message", err)
	}
	return msg.ID, nil
}

func (a *OpenAIAssistant) ListMessages(ctx context.Context, threadID string) (openai.MessagesList, error) {
	list, err := a.client.ListMessage(ctx, threadID, nil, nil, nil, nil, nil)
	if err != nil {
		return openai.MessagesList{}, opError("list messages", err)
	}
	return list, nil
}

type streamRunRequest struct {
	openai.RunRequest
	Stream bool `json:"stream"`
}

// StreamRun starts a run on threadID and returns its event stream. The request is
// bound to ctx: cancelling ctx tears down the vendor connection.
func (a *OpenAIAssistant) StreamRun(ctx context.Context, threadID string) (RunStream, error) {
	body, err := json.Marshal(streamRunRequest{
		RunRequest: openai.RunRequest{AssistantID: a.assistantID},
		Stream:     true,
	})
	if err != nil {
		return nil, opError("start run", err)
	}
	u := fmt.Sprintf("%s/threads/%s/runs", a.baseURL, url.PathEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, opError("start run", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("OpenAI-Beta", "assistants="+assistantVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, opError("start run", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return nil, opError("start run", decodeAPIError(resp))
	}
	a.logger.Debug().Str("thread_id", threadID).Msg("run stream opened")
	return newRunStream(resp.Body), nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er openai.ErrorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error != nil {
		er.Error.HTTPStatus = resp.Status
		er.Error.HTTPStatusCode = resp.StatusCode
		return er.Error
	}
	return &openai.RequestError{
		HTTPStatus:     resp.Status,
		HTTPStatusCode: resp.StatusCode,
		Err:            errors.Errorf("unexpected status %d", resp.StatusCode),
		Body:           b,
	}
}
