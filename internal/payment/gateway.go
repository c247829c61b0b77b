package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fkhayef/travelmate/internal/config"
	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Gateway is the external payment provider. Every call must respect ctx.
type Gateway interface {
	Ready(ctx context.Context, req GatewayReadyRequest) (*GatewayReadyResponse, error)
	Approve(ctx context.Context, req GatewayApproveRequest) (*GatewayApproveResponse, error)
	Cancel(ctx context.Context, req GatewayCancelRequest) (*GatewayCancelResponse, error)
}

// GatewayReadyRequest opens a payment session
type GatewayReadyRequest struct {
	CID            string `json:"cid"`
	PartnerOrderID string `json:"partner_order_id"`
	PartnerUserID  string `json:"partner_user_id"`
	ItemName       string `json:"item_name"`
	Quantity       int    `json:"quantity"`
	TotalAmount    int64  `json:"total_amount"`
	TaxFreeAmount  int64  `json:"tax_free_amount"`
	ApprovalURL    string `json:"approval_url"`
	CancelURL      string `json:"cancel_url"`
	FailURL        string `json:"fail_url"`
}

// GatewayReadyResponse carries the transaction id and user redirect targets
type GatewayReadyResponse struct {
	TID                   string `json:"tid"`
	NextRedirectAppURL    string `json:"next_redirect_app_url"`
	NextRedirectMobileURL string `json:"next_redirect_mobile_url"`
	NextRedirectPCURL     string `json:"next_redirect_pc_url"`
	CreatedAt             string `json:"created_at"`
}

// GatewayApproveRequest captures a payment the user authorized
type GatewayApproveRequest struct {
	CID            string `json:"cid"`
	TID            string `json:"tid"`
	PartnerOrderID string `json:"partner_order_id"`
	PartnerUserID  string `json:"partner_user_id"`
	PGToken        string `json:"pg_token"`
}

// GatewayApproveResponse is the provider's capture receipt
type GatewayApproveResponse struct {
	AID               string `json:"aid"`
	TID               string `json:"tid"`
	CID               string `json:"cid"`
	PartnerOrderID    string `json:"partner_order_id"`
	PartnerUserID     string `json:"partner_user_id"`
	PaymentMethodType string `json:"payment_method_type"`
	Amount            Amount `json:"amount"`
	ItemName          string `json:"item_name"`
	Quantity          int    `json:"quantity"`
	ApprovedAt        string `json:"approved_at"`
}

// GatewayCancelRequest refunds all or part of a captured payment
type GatewayCancelRequest struct {
	CID                 string `json:"cid"`
	TID                 string `json:"tid"`
	CancelAmount        int64  `json:"cancel_amount"`
	CancelTaxFreeAmount int64  `json:"cancel_tax_free_amount"`
}

// GatewayCancelResponse is the provider's refund receipt
type GatewayCancelResponse struct {
	TID            string `json:"tid"`
	Status         string `json:"status"`
	CanceledAmount Amount `json:"canceled_amount"`
	CanceledAt     string `json:"canceled_at"`
}

// gatewayErrorBody is the provider's error envelope
type gatewayErrorBody struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// gatewayTimeLayout is the provider's local timestamp format
const gatewayTimeLayout = "2006-01-02T15:04:05"

// HTTPGateway talks to a KakaoPay-style REST payment API
type HTTPGateway struct {
	baseURL    string
	secretKey  string
	cid        string
	httpClient *http.Client
	metrics    *Metrics
}

// NewHTTPGateway creates a gateway client bounded by cfg.Timeout
func NewHTTPGateway(cfg config.GatewayConfig, metrics *Metrics) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		cid:        cfg.CID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    metrics,
	}
}

func (g *HTTPGateway) Ready(ctx context.Context, req GatewayReadyRequest) (*GatewayReadyResponse, error) {
	if req.CID == "" {
		req.CID = g.cid
	}
	var resp GatewayReadyResponse
	if err := g.post(ctx, "ready", "/online/v1/payment/ready", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGateway) Approve(ctx context.Context, req GatewayApproveRequest) (*GatewayApproveResponse, error) {
	if req.CID == "" {
		req.CID = g.cid
	}
	var resp GatewayApproveResponse
	if err := g.post(ctx, "approve", "/online/v1/payment/approve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGateway) Cancel(ctx context.Context, req GatewayCancelRequest) (*GatewayCancelResponse, error) {
	if req.CID == "" {
		req.CID = g.cid
	}
	var resp GatewayCancelResponse
	if err := g.post(ctx, "cancel", "/online/v1/payment/cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGateway) post(ctx context.Context, op, path string, body, out any) (err error) {
	start := time.Now()
	defer func() { g.metrics.observeGateway(op, start, err) }()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	httpReq.Header.Set("Authorization", "SECRET_KEY "+g.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return apperr.Timeout("payment gateway timed out", err)
		}
		return apperr.Gateway("payment gateway unavailable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return apperr.Timeout("payment gateway timed out", err)
		}
		return apperr.Gateway("payment gateway unavailable", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb gatewayErrorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.ErrorMessage
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return apperr.Gateway("payment gateway rejected "+op,
			fmt.Errorf("status %d code %s: %s", resp.StatusCode, strconv.Itoa(eb.ErrorCode), msg))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Gateway("payment gateway returned a malformed "+op+" response", err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// parseGatewayTime parses the provider's timestamp, falling back to now
func parseGatewayTime(s string, now time.Time) time.Time {
	if t, err := time.ParseInLocation(gatewayTimeLayout, s, time.UTC); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return now
}
