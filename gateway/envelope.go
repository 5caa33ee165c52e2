package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"royaltyd/claims"
	"royaltyd/native/royalty"
	"royaltyd/notify"
)

// Machine-readable error codes carried in the response envelope.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeNoFunds         = "NO_CLAIMABLE_FUNDS"
	CodeTransferFailed  = "LEDGER_TRANSFER_FAILED"
	CodePaused          = "SERVICE_PAUSED"
	CodeClaimInProgress = "CLAIM_IN_PROGRESS"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL_ERROR"
)

type envelope struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *errorBody `json:"error,omitempty"`
	Metadata metadata   `json:"metadata"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	RequestID string    `json:"requestId"`
}

func (s *Server) meta(r *http.Request) metadata {
	return metadata{
		Timestamp: s.now().UTC(),
		Version:   s.version,
		RequestID: chimw.GetReqID(r.Context()),
	}
}

func (s *Server) writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	s.writeEnvelope(w, status, envelope{Success: true, Data: data, Metadata: s.meta(r)})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeEnvelope(w, status, envelope{
		Success:  false,
		Error:    &errorBody{Code: code, Message: message},
		Metadata: s.meta(r),
	})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response", "err", err)
	}
}

// writeFailure maps domain errors onto HTTP statuses and envelope codes.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, claims.ErrChapterRequired),
		errors.Is(err, claims.ErrInvalidAddress),
		errors.Is(err, notify.ErrAuthorRequired),
		errors.Is(err, royalty.ErrUnknownTier),
		errors.Is(err, royalty.ErrNegativeAmount),
		errors.Is(err, royalty.ErrAmountTooLarge):
		s.writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, claims.ErrRateLimited), errors.Is(err, notify.ErrRateLimited):
		s.writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, err.Error())
	case errors.Is(err, claims.ErrNoClaimableFunds):
		s.writeError(w, r, http.StatusInternalServerError, CodeNoFunds, err.Error())
	case errors.Is(err, claims.ErrProcessorPaused):
		s.writeError(w, r, http.StatusServiceUnavailable, CodePaused, err.Error())
	case errors.Is(err, claims.ErrClaimInProgress):
		s.writeError(w, r, http.StatusConflict, CodeClaimInProgress, err.Error())
	case errors.Is(err, claims.ErrTransferFailed):
		s.writeError(w, r, http.StatusInternalServerError, CodeTransferFailed, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		s.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
