package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeDomainErr maps service errors onto HTTP statuses; anything unknown is
// logged and reported as 500.
func writeDomainErr(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, mocktest.ErrPaperNotFound), errors.Is(err, docstore.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, mocktest.ErrNotOwner):
		writeErr(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, mocktest.ErrAlreadySubmitted):
		writeErr(w, http.StatusConflict, "already_submitted", err.Error())
	case errors.Is(err, mocktest.ErrNotStarted):
		writeErr(w, http.StatusConflict, "not_started", err.Error())
	case errors.Is(err, mocktest.ErrTimeUp):
		writeErr(w, http.StatusConflict, "time_up", err.Error())
	case errors.Is(err, docstore.ErrConflict):
		writeErr(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, mocktest.ErrInvalidRequest), errors.Is(err, mocktest.ErrInvalidQuestion),
		errors.Is(err, docstore.ErrInvalidQuery):
		writeErr(w, http.StatusBadRequest, "invalid", err.Error())
	default:
		log.Error("request failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20))
	return dec.Decode(v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return def
}
