package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/resale/backend/internal/domain/dispatch"
)

// StorefrontAdapter implements the Driver interface for the INTERNAL
// provider kind: it proxies another tenant's public storefront API using an
// opaque token credential. The upstream is another instance of this very
// platform, so its payloads are JSON but historically irregular; balance in
// particular has appeared in three shapes across storefront versions.
type StorefrontAdapter struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewStorefrontAdapter creates a new storefront adapter. Timeouts are
// applied per call; the client itself carries no deadline.
func NewStorefrontAdapter(logger *zap.Logger) *StorefrontAdapter {
	return &StorefrontAdapter{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Kind returns the provider kind this adapter handles
func (a *StorefrontAdapter) Kind() dispatch.ProviderKind {
	return dispatch.ProviderKindInternal
}

// GetBalance fetches the storefront account balance. Malformed or
// error-shaped payloads yield a structured failure, never a zero balance.
func (a *StorefrontAdapter) GetBalance(ctx context.Context, cfg *dispatch.IntegrationConfig) dispatch.BalanceResult {
	base, err := a.prepare(cfg)
	if err != nil {
		return dispatch.BalanceResult{Err: dispatch.FailureConfig, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, balanceTimeout)
	defer cancel()

	body, failure, msg := a.doGet(ctx, cfg, base+"/api/client/profile")
	if !failure.IsZero() {
		return dispatch.BalanceResult{Err: failure, Message: msg}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return dispatch.BalanceResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}

	// Error envelopes arrive with HTTP 200 from older storefront versions
	if code, ok := envelopeCode(payload); ok {
		return dispatch.BalanceResult{
			Err:     dispatch.RemoteFailure(code),
			Message: Truncate(envelopeMessage(payload)),
		}
	}

	balance, currency, ok := parseBalance(payload)
	if !ok {
		return dispatch.BalanceResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}
	return dispatch.BalanceResult{Balance: balance, Currency: currency}
}

// ListProducts fetches the storefront catalog. Best-effort: every failure
// is reported in the result, never propagated.
func (a *StorefrontAdapter) ListProducts(ctx context.Context, cfg *dispatch.IntegrationConfig) dispatch.CatalogResult {
	base, err := a.prepare(cfg)
	if err != nil {
		return dispatch.CatalogResult{Err: dispatch.FailureConfig, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	body, failure, msg := a.doGet(ctx, cfg, base+"/api/client/products")
	if !failure.IsZero() {
		return dispatch.CatalogResult{Err: failure, Message: msg}
	}

	var payload struct {
		Products []storefrontProduct `json:"products"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Some storefronts return a bare array
		var bare []storefrontProduct
		if err := json.Unmarshal(body, &bare); err != nil {
			return dispatch.CatalogResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
		}
		payload.Products = bare
	}

	products := make([]dispatch.CatalogProduct, 0, len(payload.Products))
	for _, p := range payload.Products {
		products = append(products, dispatch.CatalogProduct{
			ExternalID: p.ID,
			Name:       p.Name,
			Category:   p.Category,
			Price:      parseDecimal(p.Price),
			Currency:   p.Currency,
			Available:  p.Available,
		})
	}
	return dispatch.CatalogResult{Products: products}
}

// SubmitOrder places one order on the storefront. The order UUID is
// forwarded so the upstream deduplicates redelivered submissions on its side
// as well.
func (a *StorefrontAdapter) SubmitOrder(ctx context.Context, cfg *dispatch.IntegrationConfig, req dispatch.SubmitRequest) dispatch.SubmitResult {
	base, err := a.prepare(cfg)
	if err != nil {
		return dispatch.SubmitResult{Err: dispatch.FailureConfig, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	reqBody, err := json.Marshal(map[string]any{
		"order_uuid": req.OrderUUID,
		"package_id": req.ExternalPackageID,
		"quantity":   req.Quantity,
		"params":     req.Params,
	})
	if err != nil {
		return dispatch.SubmitResult{Err: dispatch.FailureConfig, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/client/order", bytes.NewReader(reqBody))
	if err != nil {
		return dispatch.SubmitResult{Err: dispatch.FailureFetch, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.setAuth(httpReq, cfg)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		kind := classifyTransportError(err)
		return dispatch.SubmitResult{Err: kind, Message: Truncate(err.Error())}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return dispatch.SubmitResult{Err: classifyTransportError(err), Message: Truncate(err.Error())}
	}

	if resp.StatusCode >= 500 {
		return dispatch.SubmitResult{Err: dispatch.RemoteFailure(resp.StatusCode), Message: Truncate(string(body))}
	}
	if resp.StatusCode >= 400 {
		// The storefront explicitly declined the order
		return dispatch.SubmitResult{Err: dispatch.FailureRejected, Message: Truncate(string(body))}
	}

	var payload struct {
		OrderID string          `json:"order_id"`
		Status  string          `json:"status"`
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return dispatch.SubmitResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}

	// Error envelope embedded in a 200
	if payload.OrderID == "" {
		var generic map[string]any
		_ = json.Unmarshal(body, &generic)
		if code, ok := envelopeCode(generic); ok {
			kind := dispatch.RemoteFailure(code)
			if code >= 400 && code < 500 {
				kind = dispatch.FailureRejected
			}
			return dispatch.SubmitResult{Err: kind, Message: Truncate(envelopeMessage(generic))}
		}
		return dispatch.SubmitResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}

	status := mapStorefrontStatus(payload.Status)
	if status == dispatch.StatusFailed {
		return dispatch.SubmitResult{Err: dispatch.FailureRejected, Message: Truncate(payload.Message)}
	}
	return dispatch.SubmitResult{
		Accepted:        true,
		ExternalOrderID: payload.OrderID,
		ExternalStatus:  status,
		Message:         Truncate(payload.Message),
	}
}

// CheckOrderStatus queries the storefront-side status of one order. When no
// external order id is known yet (ambiguous submit), the lookup runs by the
// forwarded order UUID.
func (a *StorefrontAdapter) CheckOrderStatus(ctx context.Context, cfg *dispatch.IntegrationConfig, ref dispatch.OrderRef) dispatch.StatusResult {
	base, err := a.prepare(cfg)
	if err != nil {
		return dispatch.StatusResult{Err: dispatch.FailureConfig, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	endpoint := base + "/api/client/order/" + ref.ExternalOrderID
	if ref.ExternalOrderID == "" {
		endpoint = base + "/api/client/order/uuid/" + ref.OrderUUID
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return dispatch.StatusResult{Err: dispatch.FailureFetch, Message: err.Error()}
	}
	a.setAuth(httpReq, cfg)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return dispatch.StatusResult{Err: classifyTransportError(err), Message: Truncate(err.Error())}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return dispatch.StatusResult{Err: classifyTransportError(err), Message: Truncate(err.Error())}
	}

	if resp.StatusCode == http.StatusNotFound {
		return dispatch.StatusResult{Found: false}
	}
	if resp.StatusCode >= 400 {
		return dispatch.StatusResult{Err: dispatch.RemoteFailure(resp.StatusCode), Message: Truncate(string(body))}
	}

	var payload struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return dispatch.StatusResult{Err: dispatch.FailureParse, Message: Truncate(string(body))}
	}

	status := mapStorefrontStatus(payload.Status)
	if !status.IsValid() || status == dispatch.StatusUnknown {
		return dispatch.StatusResult{Err: dispatch.FailureParse, Message: Truncate(payload.Status)}
	}
	return dispatch.StatusResult{
		Found:           true,
		ExternalOrderID: payload.OrderID,
		ExternalStatus:  status,
		Message:         Truncate(payload.Message),
	}
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// prepare validates the credential shape and normalizes the base URL
func (a *StorefrontAdapter) prepare(cfg *dispatch.IntegrationConfig) (string, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return "", err
	}
	base, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %q", dispatch.ErrInvalidBaseURL, cfg.BaseURL)
	}
	return base, nil
}

func (a *StorefrontAdapter) setAuth(req *http.Request, cfg *dispatch.IntegrationConfig) {
	name, value := AuthHeader(NormalizeToken(cfg.APIToken))
	req.Header.Set(name, value)
}

// doGet performs an authenticated GET and classifies transport and HTTP
// failures; the caller handles payload parsing.
func (a *StorefrontAdapter) doGet(ctx context.Context, cfg *dispatch.IntegrationConfig, endpoint string) ([]byte, dispatch.FailureKind, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, dispatch.FailureFetch, err.Error()
	}
	a.setAuth(req, cfg)

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
	return body, dispatch.FailureNone, ""
}

type storefrontProduct struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     json.RawMessage `json:"price"`
	Currency  string          `json:"currency"`
	Available bool            `json:"available"`
}

// parseBalance checks payload shapes in priority order: a numeric "balance"
// at the top level, "user.balance", then a numeric string under "funds".
// No match means parse failure; the balance is never coerced to zero.
func parseBalance(payload map[string]any) (decimal.Decimal, string, bool) {
	currency, _ := payload["currency"].(string)

	if d, ok := toDecimal(payload["balance"]); ok {
		return d, currency, true
	}
	if user, ok := payload["user"].(map[string]any); ok {
		if d, ok := toDecimal(user["balance"]); ok {
			if c, ok := user["currency"].(string); ok && c != "" {
				currency = c
			}
			return d, currency, true
		}
	}
	if s, ok := payload["funds"].(string); ok {
		if d, err := decimal.NewFromString(s); err == nil {
			return d, currency, true
		}
	}
	return decimal.Zero, "", false
}

// toDecimal accepts JSON numbers and numeric strings
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		if n == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func parseDecimal(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Zero
	}
	s := string(bytes.Trim(raw, `"`))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// envelopeCode detects the legacy error envelope: a numeric "code" of 400 or
// above alongside a "message" in an otherwise 2xx response.
func envelopeCode(payload map[string]any) (int, bool) {
	v, ok := payload["code"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok || f < 400 {
		return 0, false
	}
	return int(f), true
}

func envelopeMessage(payload map[string]any) string {
	if m, ok := payload["message"].(string); ok {
		return m
	}
	return "remote error"
}

// mapStorefrontStatus maps storefront order statuses onto the state machine
func mapStorefrontStatus(status string) dispatch.ExternalStatus {
	switch status {
	case "pending", "processing", "accepted":
		return dispatch.StatusSent
	case "completed", "success", "delivered":
		return dispatch.StatusDelivered
	case "failed", "canceled", "cancelled", "refunded":
		return dispatch.StatusFailed
	default:
		return dispatch.StatusUnknown
	}
}

// Ensure StorefrontAdapter implements the Driver interface
var _ dispatch.Driver = (*StorefrontAdapter)(nil)
