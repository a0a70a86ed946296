package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/messages"
)

// NewEnforcerRouter serves the enforcer API. Successful responses carry the
// bare result so gateways can decode a commitment directly.
func NewEnforcerRouter(enforcer *app.Enforcer, logger log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/alive", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Post("/request_preconfirmation", func(w http.ResponseWriter, r *http.Request) {
		var payload messages.PreconfirmationPayload
		if err := ReadJSON(r, &payload); err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
			return
		}
		commitment, err := enforcer.RequestPreconfirmation(r.Context(), payload)
		if err != nil {
			writeErr(w, err, http.StatusInternalServerError)
			return
		}
		WriteJSON(w, http.StatusOK, commitment)
	})

	r.Post("/apply_tx", func(w http.ResponseWriter, r *http.Request) {
		var priv messages.PrivilegedTransaction
		if err := ReadJSON(r, &priv); err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
			return
		}
		if err := enforcer.ApplyTransaction(r.Context(), priv); err != nil {
			writeErr(w, err, http.StatusBadGateway)
			return
		}
		WriteJSON(w, http.StatusOK, messages.StatusResponse{TxHash: priv.TxHash, Status: messages.StatusApproved})
	})

	return r
}
