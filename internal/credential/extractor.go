// Package credential extracts and validates the per-tenant credential
// carried on an inbound request, the leaf component everything else in the
// gateway depends on.
package credential

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/llmgateway/gateway/internal/apierror"
)

// Source names which carrier the credential was found on, useful for
// telemetry and for the "warn on query-parameter use" requirement.
type Source string

const (
	SourceAuthorizationBearer Source = "authorization_bearer"
	SourceAuthorizationBasic  Source = "authorization_basic"
	SourceAPIKeyHeader        Source = "x_api_key_header"
	SourceQueryParam          Source = "query_param"
	SourceJSONBody            Source = "json_body"
)

// Extracted is the result of a successful extraction: the canonicalized
// plaintext, the carrier it came from, its SHA-256 hash, and a safe preview.
type Extracted struct {
	Plaintext string
	Source    Source
	Hash      string
	Preview   string
}

var (
	formatPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^als_[A-Za-z0-9]{43}$`),
		regexp.MustCompile(`^test_[A-Za-z0-9]{39}$`),
	}

	placeholderPattern = regexp.MustCompile(`(?i)test123|dummy|example|sample|placeholder`)

	canonicalizeStrip = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// Extract pulls a single credential out of r following the fixed carrier
// order: Authorization Bearer, Authorization Basic, X-API-Key, query
// parameter, then (only for JSON POST bodies) a top-level "api_key" field.
// The request body is restored after a JSON-body read so downstream
// handlers still observe it.
func Extract(r *http.Request) (*Extracted, *apierror.Error) {
	if raw, ok := fromAuthorizationHeader(r); ok {
		return build(raw.value, raw.source)
	}

	if raw := r.Header.Get("X-API-Key"); raw != "" {
		return build(raw, SourceAPIKeyHeader)
	}

	if raw := firstQueryValue(r, "api_key", "key"); raw != "" {
		return build(raw, SourceQueryParam)
	}

	if raw, ok := fromJSONBody(r); ok {
		return build(raw, SourceJSONBody)
	}

	return nil, apierror.New(apierror.MissingCredential, "no credential present on request")
}

type rawCredential struct {
	value  string
	source Source
}

func fromAuthorizationHeader(r *http.Request) (rawCredential, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return rawCredential{}, false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return rawCredential{}, false
	}

	scheme, value := strings.ToLower(parts[0]), parts[1]
	switch scheme {
	case "bearer":
		return rawCredential{value: value, source: SourceAuthorizationBearer}, true
	case "basic":
		// Basic carries "user:pass" already base64-decoded by the caller in
		// some deployments; here we accept either side as a candidate and
		// let the format gate decide which (if either) is valid.
		user, pass, ok := basicUserPass(value)
		if !ok {
			return rawCredential{value: value, source: SourceAuthorizationBasic}, true
		}
		if matchesFormat(pass) {
			return rawCredential{value: pass, source: SourceAuthorizationBasic}, true
		}
		return rawCredential{value: user, source: SourceAuthorizationBasic}, true
	}
	return rawCredential{}, false
}

func basicUserPass(value string) (string, string, bool) {
	idx := strings.IndexByte(value, ':')
	if idx < 0 {
		return "", "", false
	}
	return value[:idx], value[idx+1:], true
}

func firstQueryValue(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// fromJSONBody reads a JSON body's top-level api_key field without
// consuming r.Body for downstream handlers.
func fromJSONBody(r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		return "", false
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return "", false
	}
	if r.Body == nil {
		return "", false
	}

	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return "", false
	}

	var payload struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", false
	}
	return payload.APIKey, payload.APIKey != ""
}

func build(raw string, source Source) (*Extracted, *apierror.Error) {
	canonical := Canonicalize(raw)

	if !matchesFormat(canonical) {
		return nil, apierror.New(apierror.MalformedCredential, "credential does not match the expected format")
	}
	if placeholderPattern.MatchString(canonical) {
		return nil, apierror.New(apierror.MalformedCredential, "credential looks like a placeholder value")
	}

	return &Extracted{
		Plaintext: canonical,
		Source:    source,
		Hash:      Hash(canonical),
		Preview:   Preview(canonical),
	}, nil
}

// Canonicalize strips whitespace and any character outside [A-Za-z0-9_],
// deterministically, so the same logical credential always hashes the same
// regardless of incidental whitespace on the wire.
func Canonicalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.NewReplacer("\r", "", "\n", "", "\t", "").Replace(trimmed)
	return canonicalizeStrip.ReplaceAllString(trimmed, "")
}

func matchesFormat(canonical string) bool {
	for _, pattern := range formatPatterns {
		if pattern.MatchString(canonical) {
			return true
		}
	}
	return false
}

// Hash returns the lowercase hex SHA-256 digest of plaintext, the sole
// lookup key used by every downstream cache and backend call.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Preview returns a safe-to-log fragment: first 8 chars, "...", last 4
// chars, or the whole string when it is shorter than 12 characters.
func Preview(plaintext string) string {
	if len(plaintext) < 12 {
		return plaintext
	}
	return plaintext[:8] + "..." + plaintext[len(plaintext)-4:]
}
