// Package auth orchestrates credential extraction, the two-tier auth
// cache, and the admin backend into a single authenticate() entry point,
// applying the tenant/credential validity gates and attaching a
// per-request Tenant Context.
package auth

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/llmgateway/gateway/internal/apierror"
	"github.com/llmgateway/gateway/internal/authcache"
	"github.com/llmgateway/gateway/internal/backend"
	"github.com/llmgateway/gateway/internal/credential"
	"github.com/llmgateway/gateway/internal/tenant"
)

// Authenticator is the entry point for request authentication.
type Authenticator struct {
	cache   *authcache.Cache
	backend *backend.Client
	logger  *zap.Logger
	group   singleflight.Group
}

func New(cache *authcache.Cache, backendClient *backend.Client, logger *zap.Logger) *Authenticator {
	return &Authenticator{cache: cache, backend: backendClient, logger: logger}
}

// Result is the outcome of Authenticate: either a populated Context, or an
// *apierror.Error naming exactly why the request was refused.
type Result struct {
	Context *tenant.Context
	Cached  bool
}

// Authenticate runs the extractor, cache, backend-resolve, and validity
// gates in the exact order the error taxonomy assumes: the first gate
// that fails determines the response.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Result, *apierror.Error) {
	extracted, extractErr := credential.Extract(r)
	if extractErr != nil {
		return nil, extractErr
	}

	tn, cred, cached, err := a.resolve(ctx, extracted.Hash)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if gateErr := validate(tn, cred, r, now); gateErr != nil {
		a.emitAuthErrorLogAsync(extracted.Hash, gateErr, clientIP(r))
		return nil, gateErr
	}

	tenantCtx := &tenant.Context{
		Tenant:                    *tn,
		Credential:                *cred,
		RequestID:                 r.Header.Get("X-Request-ID"),
		ClientIP:                  clientIP(r),
		UserAgent:                 r.UserAgent(),
		ArrivedAt:                 now,
		CachedFromDistributedTier: cached,
	}

	a.emitAuthEventAsync(tenantCtx, "success", "")

	return &Result{Context: tenantCtx, Cached: cached}, nil
}

// resolve returns (tenant, credential, cachedFromDistributedTier, error).
// Concurrent resolutions for the same hash coalesce into a single backend
// round-trip via singleflight.
func (a *Authenticator) resolve(ctx context.Context, hash string) (*tenant.Tenant, *tenant.Credential, bool, *apierror.Error) {
	entry, hit, cacheErr := a.cache.Get(ctx, hash)
	if cacheErr != nil {
		a.logger.Warn("auth: cache read failed, falling through to backend", zap.Error(cacheErr))
	}
	if entry != nil {
		return &entry.Tenant, &entry.Credential, hit, nil
	}

	v, err, _ := a.group.Do(hash, func() (any, error) {
		resp, verr := a.backend.VerifyKey(ctx, hash)
		if verr != nil {
			return nil, verr
		}
		tn, cred := fromDTO(resp)
		a.cache.Set(ctx, hash, *tn, *cred)
		return &resolved{tenant: tn, credential: cred}, nil
	})
	if err != nil {
		return nil, nil, false, classifyBackendError(err)
	}

	res := v.(*resolved)
	return res.tenant, res.credential, false, nil
}

type resolved struct {
	tenant     *tenant.Tenant
	credential *tenant.Credential
}

func classifyBackendError(err error) *apierror.Error {
	var notFound *backend.NotFound
	if errAs(err, &notFound) {
		return apierror.New(apierror.CredentialNotFound, "credential not recognized")
	}
	var statusErr *backend.StatusError
	if errAs(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusUnauthorized:
			return apierror.New(apierror.CredentialNotFound, "credential not recognized")
		case http.StatusForbidden:
			return apierror.New(apierror.CredentialRevoked, "credential revoked")
		default:
			return apierror.Wrap(apierror.BackendError, "admin backend error", err)
		}
	}
	return apierror.Wrap(apierror.BackendError, "admin backend unreachable", err)
}

func errAs(err error, target any) bool {
	switch t := target.(type) {
	case **backend.NotFound:
		if nf, ok := err.(*backend.NotFound); ok {
			*t = nf
			return true
		}
	case **backend.StatusError:
		if se, ok := err.(*backend.StatusError); ok {
			*t = se
			return true
		}
	}
	return false
}

func fromDTO(resp *backend.VerifyKeyResponse) (*tenant.Tenant, *tenant.Credential) {
	tn := &tenant.Tenant{
		ID:               resp.Company.ID,
		DisplayName:      resp.Company.DisplayName,
		Tier:             tenant.Tier(resp.Company.Tier),
		Active:           resp.Company.Active,
		AllowedProviders: resp.Company.AllowedProviders,
		MonthlyBudgetCap: resp.Company.MonthlyBudgetCap,
		WebhookTarget:    resp.Company.WebhookTarget,
		WebhookSecret:    resp.Company.WebhookSecret,
	}
	if ov := resp.Company.RateLimitOverrides; ov != nil {
		tn.RateLimitOverrides = &tenant.LimitOverrides{PerMinute: ov.PerMinute, PerHour: ov.PerHour, PerDay: ov.PerDay}
	}
	if ov := resp.Company.CostLimitOverrides; ov != nil {
		tn.CostLimitOverrides = &tenant.LimitOverrides{PerMinute: ov.PerMinute, PerHour: ov.PerHour, PerDay: ov.PerDay}
	}

	cred := &tenant.Credential{
		ID:               resp.APIKey.ID,
		TenantID:         resp.APIKey.CompanyID,
		Hash:             resp.APIKey.Hash,
		Preview:          resp.APIKey.Preview,
		Active:           resp.APIKey.Active,
		ExpiresAt:        resp.APIKey.ExpiresAt,
		Scopes:           resp.APIKey.Scopes,
		AllowedIPs:       resp.APIKey.AllowedIPs,
		AllowedEndpoints: resp.APIKey.AllowedEndpoints,
		AllowedProviders: resp.APIKey.AllowedProviders,
	}
	return tn, cred
}

// validate applies the six validity gates in spec order, first failure
// wins.
func validate(tn *tenant.Tenant, cred *tenant.Credential, r *http.Request, now time.Time) *apierror.Error {
	if !tn.Active {
		return apierror.New(apierror.TenantSuspended, "tenant is suspended")
	}
	if !cred.Active {
		return apierror.New(apierror.CredentialRevoked, "credential is revoked")
	}
	if cred.IsExpired(now) {
		return apierror.New(apierror.CredentialExpired, "credential has expired")
	}
	if len(cred.AllowedIPs) > 0 && !ipAllowed(cred.AllowedIPs, clientIP(r)) {
		return apierror.New(apierror.IPNotAllowed, "client IP not permitted for this credential")
	}
	if len(cred.AllowedEndpoints) > 0 && !endpointAllowed(cred.AllowedEndpoints, r.URL.Path) {
		return apierror.New(apierror.EndpointNotAllowed, "endpoint not permitted for this credential")
	}
	if vendor, ok := providerFromPath(r.URL.Path); ok {
		if !providerAllowed(cred.AllowedProviders, tn.AllowedProviders, vendor) {
			return apierror.New(apierror.ProviderNotAllowed, "provider not permitted")
		}
	}
	return nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipAllowed(allowed []string, ip string) bool {
	parsed := net.ParseIP(ip)
	for _, entry := range allowed {
		if entry == "*" || entry == ip {
			return true
		}
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err == nil && parsed != nil && cidr.Contains(parsed) {
				return true
			}
		}
	}
	return false
}

func endpointAllowed(allowed []string, path string) bool {
	for _, entry := range allowed {
		switch {
		case strings.HasPrefix(entry, "/") && strings.HasSuffix(entry, "/") && len(entry) > 1:
			pattern := entry[1 : len(entry)-1]
			if re, err := regexp.Compile(pattern); err == nil && re.MatchString(path) {
				return true
			}
		case strings.HasSuffix(entry, "*"):
			if strings.HasPrefix(path, strings.TrimSuffix(entry, "*")) {
				return true
			}
		case entry == path:
			return true
		}
	}
	return false
}

var proxyPathPattern = regexp.MustCompile(`^/proxy/([^/]+)/`)

func providerFromPath(path string) (string, bool) {
	m := proxyPathPattern.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func providerAllowed(credAllowed, tenantAllowed []string, vendor string) bool {
	return listPermits(credAllowed, vendor) && listPermits(tenantAllowed, vendor)
}

func listPermits(list []string, vendor string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == "*" || strings.EqualFold(v, vendor) {
			return true
		}
	}
	return false
}

func (a *Authenticator) emitAuthEventAsync(tc *tenant.Context, outcome, errKind string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := a.backend.EmitAuthEvent(ctx, backend.AuthEvent{
			TenantID:     tc.Tenant.ID,
			CredentialID: tc.Credential.ID,
			Outcome:      outcome,
			ErrorKind:    errKind,
			ClientIP:     tc.ClientIP,
			UserAgent:    tc.UserAgent,
			Timestamp:    tc.ArrivedAt,
		})
		if err != nil {
			a.logger.Warn("auth: auth_event emit failed", zap.Error(err))
		}
	}()
}

func (a *Authenticator) emitAuthErrorLogAsync(hash string, gateErr *apierror.Error, clientIP string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := a.backend.EmitAuthErrorLog(ctx, backend.AuthErrorLog{
			CredentialHash: hash,
			ErrorKind:      string(gateErr.Kind),
			Detail:         gateErr.Message,
			ClientIP:       clientIP,
			Timestamp:      time.Now(),
		})
		if err != nil {
			a.logger.Warn("auth: auth-error log emit failed", zap.Error(err))
		}
	}()
}

