package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/logger"
	"ms-registration/internal/metrics"
	"ms-registration/internal/models"
)

const (
	CodeSuccess         = 100
	CodeAlreadyVerified = 101
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GatewayError is any failure talking to the gateway: transport, decoding or
// a non-success code. Callers surface it as a 502.
type GatewayError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: code %d %s", e.Op, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGatewayUnavailable, e.Err}
	}
	return []error{ErrGatewayUnavailable}
}

// GatewayClient speaks the request/verify/start-pay JSON protocol.
type GatewayClient struct {
	client *http.Client
	cfg    config.GatewayConfig
	log    *logger.Logger
}

func NewGatewayClient(cfg config.GatewayConfig, log *logger.Logger) *GatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	log.Info("GATEWAY", fmt.Sprintf("Gateway client initialized (request=%s timeout=%s)", cfg.RequestURL, timeout))
	return &GatewayClient{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		log:    log,
	}
}

// Request opens a transaction and returns its authority token.
func (g *GatewayClient) Request(ctx context.Context, amount int64, description string, metadata map[string]string) (string, error) {
	body := models.GatewayRequestBody{
		MerchantID:  g.cfg.MerchantID,
		Amount:      amount,
		CallbackURL: g.cfg.CallbackURL,
		Description: description,
		Metadata:    metadata,
	}

	data, err := g.call(ctx, "request", g.cfg.RequestURL, body)
	if err != nil {
		return "", err
	}
	if data.Code != CodeSuccess || data.Authority == "" {
		g.log.Error("GATEWAY", fmt.Sprintf("Request rejected: code=%d message=%s", data.Code, data.Message))
		return "", &GatewayError{Op: "request", Code: data.Code, Message: data.Message}
	}

	g.log.Info("GATEWAY", fmt.Sprintf("Transaction opened: authority=%s amount=%d", data.Authority, amount))
	return data.Authority, nil
}

// Verify asks the gateway to settle authority. The returned data carries the
// gateway's code; only transport or decoding problems are errors.
func (g *GatewayClient) Verify(ctx context.Context, amount int64, authority string) (*models.GatewayData, error) {
	body := models.GatewayVerifyBody{
		MerchantID: g.cfg.MerchantID,
		Amount:     amount,
		Authority:  authority,
	}
	data, err := g.call(ctx, "verify", g.cfg.VerifyURL, body)
	if err != nil {
		return nil, err
	}
	g.log.Info("GATEWAY", fmt.Sprintf("Verify authority=%s code=%d ref_id=%s", authority, data.Code, data.RefID))
	return data, nil
}

// StartPayURL is where the payer's browser goes to complete authority.
func (g *GatewayClient) StartPayURL(authority string) string {
	return strings.TrimRight(g.cfg.StartPayURL, "/") + "/" + authority
}

// IsVerified reports whether code settles the payment. 101 means a previous
// verify already succeeded.
func IsVerified(code int) bool {
	return code == CodeSuccess || code == CodeAlreadyVerified
}

func (g *GatewayClient) call(ctx context.Context, op, url string, payload interface{}) (*models.GatewayData, error) {
	start := time.Now()
	data, err := g.do(ctx, op, url, payload)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveGatewayCall(op, outcome, time.Since(start))
	return data, err
}

func (g *GatewayClient) do(ctx context.Context, op, url string, payload interface{}) (*models.GatewayData, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("GATEWAY", fmt.Sprintf("%s call failed: %v", op, err))
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}

	var envelope models.GatewayResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		g.log.Error("GATEWAY", fmt.Sprintf("%s returned undecodable body (HTTP %d): %v", op, resp.StatusCode, err))
		return nil, &GatewayError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	data, err := envelope.Payload()
	if err != nil {
		return nil, &GatewayError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	if data == nil {
		g.log.Error("GATEWAY", fmt.Sprintf("%s returned errors (HTTP %d): %s", op, resp.StatusCode, string(envelope.Errors)))
		return nil, &GatewayError{Op: op, Code: resp.StatusCode, Message: string(envelope.Errors)}
	}
	return data, nil
}
