package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
	"github.com/spire-labs/poc-monorepo/store"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData wraps v in the gateway's response envelope.
func WriteData(w http.ResponseWriter, status int, v interface{}) {
	WriteJSON(w, status, map[string]interface{}{"request_id": NewRequestID(), "data": v})
}

func ReadJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	RequestID string    `json:"request_id"`
	Error     ErrorBody `json:"error"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{RequestID: NewRequestID(), Error: ErrorBody{Code: code, Message: message}})
}

// writeErr maps err onto a status and error code. upstreamStatus is used
// for failures of remote collaborators.
func writeErr(w http.ResponseWriter, err error, upstreamStatus int) {
	status, code := classify(err, upstreamStatus)
	WriteError(w, status, code, err.Error())
}

func classify(err error, upstreamStatus int) (int, string) {
	var codecErr *messages.CodecError
	var validityErr *modules.ValidityError
	var signatureErr *modules.SignatureError
	var upstreamErr *app.UpstreamError
	switch {
	case errors.As(err, &codecErr):
		return http.StatusBadRequest, "INVALID_ENCODING"
	case errors.As(err, &validityErr):
		return http.StatusBadRequest, "INVALID_TRANSACTION"
	case errors.As(err, &signatureErr):
		return http.StatusBadRequest, "INVALID_SIGNATURE"
	case errors.Is(err, app.ErrProtocolViolation):
		return http.StatusBadRequest, "PROTOCOL_VIOLATION"
	case errors.Is(err, app.ErrNoCommitment):
		return http.StatusBadRequest, "NO_COMMITMENT"
	case errors.Is(err, app.ErrDuplicateRequest):
		return http.StatusBadRequest, "DUPLICATE_REQUEST"
	case errors.Is(err, app.ErrInvalidChallenge), errors.Is(err, app.ErrInvalidMetadata):
		return http.StatusBadRequest, "INVALID_REGISTRATION"
	case errors.Is(err, app.ErrUnknownRollup):
		return http.StatusBadRequest, "UNKNOWN_ROLLUP"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &upstreamErr):
		return upstreamStatus, "UPSTREAM_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// requestLogger logs one line per request through the service logger.
func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Served request", "method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "bytes", ww.BytesWritten(), "took", time.Since(start))
		})
	}
}

// cors allows browser wallets to call the gateway from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
