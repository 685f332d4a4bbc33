package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qiuyan86/antigravity-gateway/internal/antigravity"
	"github.com/qiuyan86/antigravity-gateway/internal/apierr"
	"github.com/qiuyan86/antigravity-gateway/internal/userstore"
)

// Handler serves the OpenAI-compatible endpoints.
type Handler struct {
	service  *Service
	users    *userstore.Store
	adminKey string
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, users *userstore.Store, adminKey string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, users: users, adminKey: adminKey, logger: logger}
}

// authorize resolves the caller's API key to a credential source. The admin
// key routes to the shared pool; user keys route to their own credentials.
func (h *Handler) authorize(r *http.Request) (antigravity.CredentialSource, bool) {
	auth := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return antigravity.CredentialSource{}, false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return antigravity.CredentialSource{}, false
	}
	if key == h.adminKey {
		return antigravity.CredentialSource{}, true
	}
	if userID, found := h.users.LookupAPIKey(key); found {
		return antigravity.CredentialSource{UserID: userID}, true
	}
	return antigravity.CredentialSource{}, false
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	source, ok := h.authorize(r)
	if !ok {
		apierr.WriteJSONError(w, http.StatusUnauthorized, "missing or unknown API key")
		return
	}

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		apierr.WriteJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	if req.Stream {
		h.streamCompletion(w, r, &req, source)
		return
	}
	h.blockingCompletion(w, r, &req, source)
}

func (h *Handler) streamCompletion(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, source antigravity.CredentialSource) {
	setSSEHeaders(w)
	flusher, _ := w.(http.Flusher)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	writeChunk := func(choice StreamChoice) {
		chunk := StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []StreamChoice{choice},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	sawToolCalls := false
	err := h.service.SubmitChat(r.Context(), req, source, func(ev antigravity.StreamEvent) {
		switch ev.Type {
		case antigravity.EventThinking:
			writeChunk(StreamChoice{Delta: Delta{ReasoningContent: ev.Text}})
		case antigravity.EventText:
			writeChunk(StreamChoice{Delta: Delta{Content: ev.Text}})
		case antigravity.EventToolCalls:
			sawToolCalls = true
			calls := make([]deltaToolCall, 0, len(ev.ToolCalls))
			for i, tc := range ev.ToolCalls {
				calls = append(calls, deltaToolCall{
					Index:    i,
					ID:       tc.ID,
					Type:     tc.Type,
					Function: tc.Function,
				})
			}
			writeChunk(StreamChoice{Delta: Delta{ToolCalls: calls}})
		}
	})
	if err != nil {
		// Headers are already on the wire; the error travels as a final
		// SSE payload instead of a status code.
		h.logger.Error("chat request failed mid-stream", "error", err)
		fmt.Fprintf(w, "data: %s\n\n", errorPayload(err))
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	finish := "stop"
	if sawToolCalls {
		finish = "tool_calls"
	}
	writeChunk(StreamChoice{Delta: Delta{}, FinishReason: &finish})
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func (h *Handler) blockingCompletion(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, source antigravity.CredentialSource) {
	var content, reasoning strings.Builder
	var toolCalls []antigravity.ToolCall

	err := h.service.SubmitChat(r.Context(), req, source, func(ev antigravity.StreamEvent) {
		switch ev.Type {
		case antigravity.EventThinking:
			reasoning.WriteString(ev.Text)
		case antigravity.EventText:
			content.WriteString(ev.Text)
		case antigravity.EventToolCalls:
			toolCalls = append(toolCalls, ev.ToolCalls...)
		}
	})
	if err != nil {
		writeRequestError(w, err)
		return
	}

	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}
	resp := ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Message: ResponseMessage{
					Role:             "assistant",
					Content:          content.String(),
					ReasoningContent: reasoning.String(),
					ToolCalls:        toolCalls,
				},
				FinishReason: finish,
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}

// Models handles GET /v1/models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	source, ok := h.authorize(r)
	if !ok {
		apierr.WriteJSONError(w, http.StatusUnauthorized, "missing or unknown API key")
		return
	}

	list, err := h.service.ListModels(r.Context(), source)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}

// writeRequestError maps the dispatch error taxonomy onto HTTP statuses.
func writeRequestError(w http.ResponseWriter, err error) {
	var backendErr *apierr.BackendError
	var exhausted *apierr.RetriesExhaustedError
	switch {
	case errors.Is(err, apierr.ErrNoCredential):
		apierr.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, apierr.ErrCredentialDenied):
		apierr.WriteJSONError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &exhausted):
		apierr.WriteJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &backendErr):
		apierr.WriteJSONError(w, http.StatusBadGateway, err.Error())
	default:
		apierr.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func errorPayload(err error) []byte {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": err.Error()},
	})
	return data
}

// setSSEHeaders sets the standard headers for a Server-Sent Events response.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
