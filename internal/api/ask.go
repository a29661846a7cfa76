package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pharci/lexica/internal/conversation"
	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/log"
)

const (
	// headerUsedFilenames carries the "||"-joined set of documents that
	// ground the streamed answer. Sent before the first chunk.
	headerUsedFilenames = "X-Used-Filenames"

	// headerDiscussionID carries the discussion the answer belongs to,
	// so a client that started without one can continue it.
	headerDiscussionID = "X-Discussion-Id"

	// filenameSeparator joins filenames in headerUsedFilenames.
	filenameSeparator = "||"

	// maxAskBodyBytes bounds the request body (CWE-400).
	maxAskBodyBytes = 1 * 1024 * 1024
)

// askHandler streams answers over plain-text chunked responses.
type askHandler struct {
	orchestrator *conversation.Orchestrator
	logger       log.Logger
}

type askRequest struct {
	Question     string       `json:"question"`
	DiscussionID string       `json:"discussion_id,omitempty"`
	Messages     []askMessage `json:"messages,omitempty"`
}

type askMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ask handles POST /api/ask. Validation errors come back as JSON before the
// stream starts; once the 200 and headers are out, generation failures are
// reported in-band as the fixed failure message.
func (h *askHandler) ask(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("response writer does not support flushing")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	msgs := make([]history.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, history.Message{Role: m.Role, Content: m.Content})
	}

	turn, err := h.orchestrator.Ask(r.Context(), conversation.Request{
		Question:     req.Question,
		DiscussionID: req.DiscussionID,
		History:      msgs,
	})
	if err != nil {
		if errors.Is(err, conversation.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, "empty_question", "question must not be blank")
			return
		}
		h.logger.Error("preparing answer failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ask_failed", "failed to prepare answer")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(headerUsedFilenames, strings.Join(turn.Filenames, filenameSeparator))
	w.Header().Set(headerDiscussionID, turn.DiscussionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	outcome, err := turn.Stream(r.Context(), func(_ context.Context, chunk string) error {
		if _, werr := io.WriteString(w, chunk); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.logger.Warn("answer stream aborted", "discussion", turn.DiscussionID, "error", err)
		return
	}

	h.logger.Debug("answer streamed",
		"discussion", turn.DiscussionID,
		"sources", len(turn.Filenames),
		"failed", outcome.Failed,
	)
}
