package chatclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/catalog-chat/pkg/events"
	"github.com/go-go-golems/catalog-chat/pkg/localmode"
	"github.com/go-go-golems/catalog-chat/pkg/relay"
)

func TestHTTPRelay_Contract(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/threads", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"threadId":"thread_9"}`)
	})
	mux.HandleFunc("POST /api/threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["message"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"Message is required"}`)
			return
		}
		_, _ = io.WriteString(w, `{"messageId":"msg_`+r.PathValue("id")+`"}`)
	})
	mux.HandleFunc("POST /api/threads/{id}/runs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"end\"}\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := NewHTTPRelay(srv.URL+"/api/", nil)
	ctx := context.Background()

	id, err := r.CreateThread(ctx)
	require.NoError(t, err)
	require.Equal(t, "thread_9", id)

	msgID, err := r.PostMessage(ctx, id, "hello")
	require.NoError(t, err)
	require.Equal(t, "msg_thread_9", msgID)

	_, err = r.PostMessage(ctx, id, "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadRequest, se.StatusCode)
	require.Equal(t, "Message is required", se.Message)

	body, err := r.StartRun(ctx, id)
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	var got []events.StreamEvent
	require.NoError(t, events.Consume(body, func(ev events.StreamEvent) bool {
		got = append(got, ev)
		return true
	}))
	require.Len(t, got, 1)
	require.Equal(t, events.TypeEnd, got[0].Type)
}

func TestHTTPRelay_DefaultURL(t *testing.T) {
	r := NewHTTPRelay("  ", nil)
	require.Equal(t, DefaultRelayURL, r.baseURL)
}

func TestController_AgainstLocalOnlyRelay(t *testing.T) {
	reply := "Offline answer from the catalog."
	g, err := localmode.NewGenerator(localmode.WithCadence(0), localmode.WithResponses([]string{reply}))
	require.NoError(t, err)
	svc, err := relay.NewService(relay.WithLocalMode(g))
	require.NoError(t, err)
	router, err := relay.NewRouter(svc)
	require.NoError(t, err)
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)

	c, surfaces := newTestController(t, NewHTTPRelay(srv.URL+"/api", srv.Client()))
	require.NoError(t, c.Initialize(context.Background()))
	require.True(t, c.SendTurn(context.Background(), "What is CS 101?"))

	s := c.Session()
	require.Equal(t, []string{GreetingText, "What is CS 101?", reply}, texts(s.Messages))
	require.Equal(t, texts(s.Messages), entryTexts(surfaces[CompactTranscript].Entries()))
}

func entryTexts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}
