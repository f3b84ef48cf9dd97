package relay

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

// Fixed client-facing error messages. Details go to the log.
const (
	msgCreateThread   = "Failed to create thread"
	msgMessageMissing = "Message is required"
	msgThreadMissing  = "Thread ID is required"
	msgAddMessage     = "Failed to add message to thread"
	msgRunAssistant   = "Failed to run assistant"
	msgListMessages   = "Failed to get messages from thread"
	msgInvalidBody    = "Invalid request body"
	msgNotFound       = "Not found"
)

type errorResponse struct {
	Error string `json:"error"`
}

type createThreadResponse struct {
	ThreadID string `json:"threadId"`
}

type postMessageRequest struct {
	Message string `json:"message"`
}

type postMessageResponse struct {
	MessageID string `json:"messageId"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (r *Router) handleCreateThread(w http.ResponseWriter, req *http.Request) {
	id, err := r.svc.CreateThread(req.Context())
	if err != nil {
		r.logger.Error().Err(err).Msg("error creating thread")
		writeError(w, http.StatusInternalServerError, msgCreateThread)
		return
	}
	writeJSON(w, http.StatusOK, createThreadResponse{ThreadID: id})
}

func (r *Router) handlePostMessage(w http.ResponseWriter, req *http.Request) {
	threadID := req.PathValue("threadId")
	var body postMessageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		r.logger.Debug().Err(err).Str("thread_id", threadID).Msg("invalid message body")
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	id, err := r.svc.PostMessage(req.Context(), threadID, body.Message)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, invalidArgumentMessage(err, msgMessageMissing))
		return
	case err != nil:
		r.logger.Error().Err(err).Str("thread_id", threadID).Msg("error adding message")
		writeError(w, http.StatusInternalServerError, msgAddMessage)
		return
	}
	writeJSON(w, http.StatusOK, postMessageResponse{MessageID: id})
}

func (r *Router) handleRun(w http.ResponseWriter, req *http.Request) {
	threadID := req.PathValue("threadId")
	sse := NewSSEWriter(w)
	err := r.svc.StartRun(req.Context(), threadID, sse)
	if err == nil {
		return
	}
	if req.Context().Err() != nil {
		r.logger.Debug().Str("thread_id", threadID).Msg("client disconnected")
		return
	}
	if sse.Started() {
		r.logger.Warn().Err(err).Str("thread_id", threadID).Msg("stream aborted")
		return
	}
	if errors.Is(err, ErrInvalidArgument) {
		r.logger.Debug().Err(err).Str("thread_id", threadID).Msg("invalid run request")
		writeError(w, http.StatusBadRequest, invalidArgumentMessage(err, msgThreadMissing))
		return
	}
	r.logger.Error().Err(err).Str("thread_id", threadID).Msg("error running assistant")
	writeError(w, http.StatusInternalServerError, msgRunAssistant)
}

func (r *Router) handleListMessages(w http.ResponseWriter, req *http.Request) {
	threadID := req.PathValue("threadId")
	list, err := r.svc.ListMessages(req.Context(), threadID)
	if errors.Is(err, ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, invalidArgumentMessage(err, msgThreadMissing))
		return
	}
	if err != nil {
		r.logger.Error().Err(err).Str("thread_id", threadID).Msg("error getting messages")
		writeError(w, http.StatusInternalServerError, msgListMessages)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (r *Router) handleAPINotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, msgNotFound)
}

// withCORS allows any origin and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
			if hdrs := req.Header.Get("Access-Control-Request-Headers"); hdrs != "" {
				h.Set("Access-Control-Allow-Headers", hdrs)
				h.Add("Vary", "Access-Control-Request-Headers")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
