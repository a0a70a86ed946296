package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/messages"
)

func NewGatewayRouter(gateway *app.Gateway, logger log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(requestLogger(logger))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		WriteData(w, http.StatusOK, map[string]string{"status": "ok", "gateway": gateway.Address().Hex()})
	})

	r.Post("/request_preconfirmation", func(w http.ResponseWriter, r *http.Request) {
		var req messages.SubmitPreconfirmation
		if err := ReadJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
			return
		}
		commitment, err := gateway.RequestPreconfirmation(r.Context(), req)
		if err != nil {
			writeErr(w, err, http.StatusInternalServerError)
			return
		}
		WriteData(w, http.StatusOK, commitment)
	})

	r.Get("/request_balance", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		owner, ok := queryAddress(w, q.Get("address"), "address")
		if !ok {
			return
		}
		rollup, ok := queryAddress(w, q.Get("rollup_contract"), "rollup_contract")
		if !ok {
			return
		}
		ticker := strings.TrimSpace(q.Get("token_ticker"))
		if ticker == "" {
			WriteError(w, http.StatusBadRequest, "BAD_QUERY", "token_ticker is required")
			return
		}
		balance, err := gateway.Balance(r.Context(), rollup, ticker, owner)
		if err != nil {
			writeErr(w, err, http.StatusInternalServerError)
			return
		}
		WriteData(w, http.StatusOK, balance)
	})

	r.Get("/preconfirmation_status", func(w http.ResponseWriter, r *http.Request) {
		hash, ok := queryHash(w, r)
		if !ok {
			return
		}
		status, err := gateway.Status(r.Context(), hash)
		if err != nil {
			writeErr(w, err, http.StatusInternalServerError)
			return
		}
		WriteData(w, http.StatusOK, messages.StatusResponse{TxHash: hash, Status: status})
	})

	r.Get("/preconfirmation", func(w http.ResponseWriter, r *http.Request) {
		hash, ok := queryHash(w, r)
		if !ok {
			return
		}
		commitment, err := gateway.Commitment(r.Context(), hash)
		if err != nil {
			writeErr(w, err, http.StatusInternalServerError)
			return
		}
		WriteData(w, http.StatusOK, commitment)
	})

	r.Route("/enforcer_metadata", func(api chi.Router) {
		api.Get("/", func(w http.ResponseWriter, r *http.Request) {
			challenge, err := gateway.Challenge(r.Context())
			if err != nil {
				writeErr(w, err, http.StatusInternalServerError)
				return
			}
			WriteData(w, http.StatusOK, messages.ChallengeResponse{Challenge: challenge})
		})

		api.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req messages.RegisterEnforcer
			if err := ReadJSON(r, &req); err != nil {
				WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
				return
			}
			err := gateway.RegisterEnforcer(r.Context(), req)
			switch {
			case errors.Is(err, app.ErrAlreadyRegistered):
				WriteData(w, http.StatusOK, map[string]string{"message": "already registered"})
			case err != nil:
				writeErr(w, err, http.StatusInternalServerError)
			default:
				WriteData(w, http.StatusCreated, map[string]string{"message": "registered"})
			}
		})
	})

	r.Get("/enforcers", func(w http.ResponseWriter, r *http.Request) {
		enforcers, err := gateway.Enforcers(r.Context())
		if err != nil {
			writeErr(w, err, http.StatusInternalServerError)
			return
		}
		WriteData(w, http.StatusOK, enforcers)
	})

	return r
}

func queryAddress(w http.ResponseWriter, raw, name string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		WriteError(w, http.StatusBadRequest, "BAD_QUERY", name+" must be a hex address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func queryHash(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	var hash common.Hash
	if err := hash.UnmarshalText([]byte(r.URL.Query().Get("tx_hash"))); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_QUERY", "tx_hash: "+err.Error())
		return common.Hash{}, false
	}
	return hash, true
}
