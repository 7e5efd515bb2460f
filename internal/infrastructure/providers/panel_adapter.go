package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/resale/backend/internal/domain/dispatch"
)

// PanelAdapter implements the Driver interface for the PANEL provider kind:
// a form-encoded top-up panel API. Every call is a POST to {base}/api/v2
// with an action parameter, the panel key and an HMAC-SHA256 signature over
// the sorted request parameters. Failures arrive as an "error" field in an
// HTTP 200 body.
type PanelAdapter struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPanelAdapter creates a new panel adapter
func NewPanelAdapter(logger *zap.Logger) *PanelAdapter {
	return &PanelAdapter{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Kind returns the provider kind this adapter handles
func (a *PanelAdapter) Kind() dispatch.ProviderKind {
	return dispatch.ProviderKindPanel
}

// GetBalance fetches the panel account balance
func (a *PanelAdapter) GetBalance(ctx context.Context, cfg *dispatch.IntegrationConfig) dispatch.BalanceResult {
	ctx, cancel := context.WithTimeout(ctx, balanceTimeout)
	defer cancel()

	body, failure, msg := a.call(ctx, cfg, url.Values{"action": {"balance"}})
	if !failure.IsZero() {
		return dispatch.BalanceResult{Err: failure, Message: msg}
	}

	var payload struct {
		Balance  json.RawMessage `json:"balance"`
		Currency string          `json:"currency"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return dispatch.BalanceResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}
	balance := parseDecimal(payload.Balance)
	if len(payload.Balance) == 0 {
		return dispatch.BalanceResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}
	return dispatch.BalanceResult{Balance: balance, Currency: payload.Currency}
}

// ListProducts fetches the panel service list
func (a *PanelAdapter) ListProducts(ctx context.Context, cfg *dispatch.IntegrationConfig) dispatch.CatalogResult {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	body, failure, msg := a.call(ctx, cfg, url.Values{"action": {"services"}})
	if !failure.IsZero() {
		return dispatch.CatalogResult{Err: failure, Message: msg}
	}

	var services []struct {
		Service  json.Number     `json:"service"`
		Name     string          `json:"name"`
		Category string          `json:"category"`
		Rate     json.RawMessage `json:"rate"`
		Currency string          `json:"currency"`
		Active   bool            `json:"active"`
	}
	if err := json.Unmarshal(body, &services); err != nil {
		return dispatch.CatalogResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}

	products := make([]dispatch.CatalogProduct, 0, len(services))
	for _, s := range services {
		products = append(products, dispatch.CatalogProduct{
			ExternalID: s.Service.String(),
			Name:       s.Name,
			Category:   s.Category,
			Price:      parseDecimal(s.Rate),
			Currency:   s.Currency,
			Available:  s.Active,
		})
	}
	return dispatch.CatalogResult{Products: products}
}

// SubmitOrder places one order on the panel. Panels have no idempotency key
// of their own, so the client order UUID is forwarded as a custom field for
// reconciliation.
func (a *PanelAdapter) SubmitOrder(ctx context.Context, cfg *dispatch.IntegrationConfig, req dispatch.SubmitRequest) dispatch.SubmitResult {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	values := url.Values{
		"action":   {"add"},
		"service":  {req.ExternalPackageID},
		"quantity": {strconv.Itoa(req.Quantity)},
		"custom":   {req.OrderUUID},
	}
	for k, v := range req.Params {
		values.Set(k, v)
	}

	body, failure, msg := a.call(ctx, cfg, values)
	if !failure.IsZero() {
		if !failure.IsTransient() && !failure.IsAmbiguous() && failure != dispatch.FailureConfig && failure != dispatch.FailureParse {
			return dispatch.SubmitResult{Err: dispatch.FailureRejected, Message: msg}
		}
		return dispatch.SubmitResult{Err: failure, Message: msg}
	}

	var payload struct {
		Order json.Number `json:"order"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Order.String() == "" {
		return dispatch.SubmitResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}
	return dispatch.SubmitResult{
		Accepted:        true,
		ExternalOrderID: payload.Order.String(),
		ExternalStatus:  dispatch.StatusSent,
	}
}

// CheckOrderStatus queries the panel-side status of one order. Panels cannot
// look orders up by the forwarded UUID: without an external order id the
// check is unresolvable, never a confirmed absence. Reporting "not found"
// here would license a resubmit after an ambiguous timeout.
func (a *PanelAdapter) CheckOrderStatus(ctx context.Context, cfg *dispatch.IntegrationConfig, ref dispatch.OrderRef) dispatch.StatusResult {
	if ref.ExternalOrderID == "" {
		return dispatch.StatusResult{
			Err:     dispatch.FailureFetch,
			Message: "panel status lookup requires an external order id",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	body, failure, msg := a.call(ctx, cfg, url.Values{
		"action": {"status"},
		"order":  {ref.ExternalOrderID},
	})
	if !failure.IsZero() {
		if strings.Contains(strings.ToLower(msg), "incorrect order") {
			return dispatch.StatusResult{Found: false}
		}
		return dispatch.StatusResult{Err: failure, Message: msg}
	}

	var payload struct {
		Status string `json:"status"`
		Remark string `json:"remark"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return dispatch.StatusResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}

	status := mapPanelStatus(payload.Status)
	if status == dispatch.StatusUnknown {
		return dispatch.StatusResult{Err: dispatch.FailureParse, Message: Truncate(payload.Status)}
	}
	return dispatch.StatusResult{
		Found:           true,
		ExternalOrderID: ref.ExternalOrderID,
		ExternalStatus:  status,
		Message:         Truncate(payload.Remark),
	}
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// call performs one signed form POST and resolves the panel error envelope.
// A non-empty "error" field maps to a rejection-shaped remote failure with
// the panel message as diagnostic.
func (a *PanelAdapter) call(ctx context.Context, cfg *dispatch.IntegrationConfig, values url.Values) ([]byte, dispatch.FailureKind, string) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, dispatch.FailureConfig, err.Error()
	}
	base, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, dispatch.FailureConfig, fmt.Sprintf("%v: %q", dispatch.ErrInvalidBaseURL, cfg.BaseURL)
	}

	values.Set("key", cfg.ClientID)
	values.Set("sign", signPayload(cfg.ClientSecret, values))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v2", strings.NewReader(values.Encode()))
	if err != nil {
		return nil, dispatch.FailureFetch, err.Error()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err), Truncate(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(err), Truncate(err.Error())
	}

	if resp.StatusCode >= 400 {
		return nil, dispatch.RemoteFailure(resp.StatusCode), Truncate(string(body))
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return nil, dispatch.RemoteFailure(http.StatusBadRequest), Truncate(envelope.Error)
	}
	return body, dispatch.FailureNone, ""
}

// signPayload computes the HMAC-SHA256 hex signature over the request
// parameters concatenated in sorted key order, excluding the signature
// itself.
func signPayload(secret string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(values.Get(k))
		sb.WriteString("&")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.TrimSuffix(sb.String(), "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// mapPanelStatus maps panel order statuses onto the state machine
func mapPanelStatus(status string) dispatch.ExternalStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "in progress", "processing":
		return dispatch.StatusSent
	case "completed":
		return dispatch.StatusDelivered
	case "canceled", "cancelled", "refunded", "error", "partial":
		return dispatch.StatusFailed
	default:
		return dispatch.StatusUnknown
	}
}

// Ensure PanelAdapter implements the Driver interface
var _ dispatch.Driver = (*PanelAdapter)(nil)
