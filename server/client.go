package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/messages"
)

// StatusError is a non-2xx answer from a peer service.
type StatusError struct {
	Status int
	Code   string
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Code, e.Msg)
}

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e ErrorResponse
		if json.Unmarshal(raw, &e) != nil || e.Error.Code == "" {
			return &StatusError{Status: res.StatusCode, Msg: strings.TrimSpace(string(raw))}
		}
		return &StatusError{Status: res.StatusCode, Code: e.Error.Code, Msg: e.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func join(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// RequestPreconfirmation asks the enforcer at base for a commitment. A
// client error from the enforcer means it refused to commit.
func (c *Client) RequestPreconfirmation(ctx context.Context, base string, payload messages.PreconfirmationPayload) (*messages.PreconfirmationCommitment, error) {
	var commitment messages.PreconfirmationCommitment
	err := c.do(ctx, http.MethodPost, join(base, "/request_preconfirmation"), payload, &commitment)
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return nil, fmt.Errorf("%w: %v", app.ErrNoCommitment, se)
	}
	if err != nil {
		return nil, err
	}
	return &commitment, nil
}

func (c *Client) ApplyTransaction(ctx context.Context, base string, priv messages.PrivilegedTransaction) error {
	return c.do(ctx, http.MethodPost, join(base, "/apply_tx"), priv, nil)
}

func (c *Client) Alive(ctx context.Context, base string) error {
	return c.do(ctx, http.MethodGet, join(base, "/alive"), nil, nil)
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// GatewayClient talks to one gateway.
type GatewayClient struct {
	*Client
	base string
}

func NewGatewayClient(base string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{Client: NewClient(timeout), base: base}
}

func (g *GatewayClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var env envelope
	if err := g.do(ctx, method, join(g.base, path), body, &env); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (g *GatewayClient) Challenge(ctx context.Context) (string, error) {
	var res messages.ChallengeResponse
	if err := g.call(ctx, http.MethodGet, "/enforcer_metadata", nil, &res); err != nil {
		return "", err
	}
	return res.Challenge, nil
}

func (g *GatewayClient) RegisterEnforcer(ctx context.Context, req messages.RegisterEnforcer) error {
	return g.call(ctx, http.MethodPost, "/enforcer_metadata", req, nil)
}

func (g *GatewayClient) SubmitPreconfirmation(ctx context.Context, req messages.SubmitPreconfirmation) (*messages.PreconfirmationCommitment, error) {
	var commitment messages.PreconfirmationCommitment
	if err := g.call(ctx, http.MethodPost, "/request_preconfirmation", req, &commitment); err != nil {
		return nil, err
	}
	return &commitment, nil
}

func (g *GatewayClient) Status(ctx context.Context, txHash common.Hash) (messages.PreconfStatus, error) {
	var res messages.StatusResponse
	if err := g.call(ctx, http.MethodGet, "/preconfirmation_status?tx_hash="+url.QueryEscape(txHash.Hex()), nil, &res); err != nil {
		return "", err
	}
	return res.Status, nil
}

func (g *GatewayClient) Balance(ctx context.Context, rollup common.Address, ticker string, owner common.Address) (*messages.BalanceResponse, error) {
	q := url.Values{}
	q.Set("address", owner.Hex())
	q.Set("token_ticker", ticker)
	q.Set("rollup_contract", rollup.Hex())
	var res messages.BalanceResponse
	if err := g.call(ctx, http.MethodGet, "/request_balance?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
