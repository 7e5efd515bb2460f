package providers

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/resale/backend/internal/domain/dispatch"
)

// Call timeouts are bounded per operation: balance and status checks are
// synchronous and short, catalog listings may page through large payloads.
const (
	balanceTimeout = 5 * time.Second
	catalogTimeout = 15 * time.Second
	submitTimeout  = 8 * time.Second
	statusTimeout  = 5 * time.Second

	// maxResponseSize bounds provider response bodies (1MB)
	maxResponseSize = 1 << 20
	// maxDiagnostic bounds response snippets kept for operator diagnosis
	maxDiagnostic = 256

	// hexTokenLength is the shape of legacy storefront API tokens
	hexTokenLength = 40
	// headerAPIToken carries hex-shaped tokens; everything else goes to
	// Authorization as a bearer token
	headerAPIToken = "X-Api-Token"
)

// NormalizeBaseURL sanitizes a tenant-supplied base address into a single
// canonical absolute URL: leading slashes are stripped, a missing scheme
// defaults to https, doubled-protocol artifacts collapse to the innermost
// address and the trailing slash is removed.
//
//	"/https://shop.example.com/"   -> "https://shop.example.com"
//	"shop.example.com"             -> "https://shop.example.com"
//	"https:///https://host"        -> "https://host"
func NormalizeBaseURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "/")

	// Collapse doubled-protocol artifacts produced by careless concatenation
	for {
		rest, ok := splitScheme(s)
		if !ok {
			break
		}
		trimmed := strings.TrimLeft(rest, "/")
		if _, nested := splitScheme(trimmed); !nested {
			break
		}
		s = trimmed
	}

	if _, ok := splitScheme(s); !ok {
		s = "https://" + s
	}
	s = strings.TrimRight(s, "/")

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", dispatch.ErrInvalidBaseURL
	}
	return s, nil
}

// splitScheme returns the remainder after an http(s) scheme prefix
func splitScheme(s string) (string, bool) {
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return s[len("https://"):], true
	case strings.HasPrefix(lower, "http://"):
		return s[len("http://"):], true
	}
	return s, false
}

// NormalizeToken strips a case-insensitive "Bearer " or "Token " prefix from
// a raw credential so stored tokens can be re-used regardless of how the
// tenant pasted them.
func NormalizeToken(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"bearer ", "token "} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}

// IsHexToken reports whether the credential matches the fixed hex-token
// shape (40 hex characters, either case).
func IsHexToken(s string) bool {
	if len(s) != hexTokenLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// AuthHeader returns the header name and value for a normalized credential:
// hex-shaped tokens use the legacy API token header, anything else is sent
// as a bearer token.
func AuthHeader(token string) (name, value string) {
	if IsHexToken(token) {
		return headerAPIToken, token
	}
	return "Authorization", "Bearer " + token
}

// Truncate bounds a diagnostic string; provider payload snippets are stored
// for operators and must stay small.
func Truncate(s string) string {
	if len(s) <= maxDiagnostic {
		return s
	}
	return s[:maxDiagnostic]
}

// classifyTransportError maps HTTP client errors onto the failure taxonomy:
// deadline/timeout errors are ambiguous timeouts, everything else is a plain
// fetch failure.
func classifyTransportError(err error) dispatch.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return dispatch.FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return dispatch.FailureTimeout
	}
	return dispatch.FailureFetch
}
