package chi

import (
	"context"
	"errors"
	"net/http"

	"github.com/poiesic/veridoc/ai"
	"github.com/poiesic/veridoc/orchestrator"
	"github.com/poiesic/veridoc/search"
)

const (
	codeBadRequest  = "bad_request"
	codeNotFound    = "not_found"
	codeConflict    = "conflict"
	codeTooLarge    = "too_large"
	codeUnavailable = "unavailable"
	codeModelError  = "model_error"
	codeTimeout     = "timeout"
	codeInternal    = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle an error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(orchestrator.ErrTaskNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(orchestrator.ErrDocumentNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(orchestrator.ErrDocumentBusy, http.StatusConflict, codeConflict),
		sentinelHandler(orchestrator.ErrEmptyDocument, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(search.ErrEmptyQuery, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(orchestrator.ErrClosed, http.StatusServiceUnavailable, codeUnavailable),
		sentinelHandler(ai.ErrTransient, http.StatusBadGateway, codeModelError),
		sentinelHandler(ai.ErrMalformedOutput, http.StatusBadGateway, codeModelError),
		sentinelHandler(ai.ErrNoChoices, http.StatusBadGateway, codeModelError),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout),
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error
// and reports the sentinel's message without internal detail.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func (s *Server) handleError(w http.ResponseWriter, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			s.logger.Debug("request failed", "err", err)
			return
		}
	}
	s.logger.Error("internal error", "err", err)
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
