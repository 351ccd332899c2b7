package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"dsregister.org/internal/audit"
	"dsregister.org/internal/auth"
	"dsregister.org/internal/obs"
	"dsregister.org/internal/registry"
	"dsregister.org/internal/ssa"
)

const registerPrefix = "/dsr-register/v1/"

func (a *API) handleRegisterV1(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == registerPrefix+"jwks" {
		a.handleJWKS(w, r)
		return
	}

	industry, brandID, softwareProductID, ok := parseSSAPath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	a.getSoftwareStatementAssertion(w, r, industry, brandID, softwareProductID)
}

// parseSSAPath matches
//
//	{industry}/data-recipients/brands/{brandId}/software-products/{softwareProductId}/ssa
//
// below the register prefix. An absent industry segment collapses during
// path cleaning and fails the shape check, so it surfaces as a routing miss
// rather than an invalid-industry error.
func parseSSAPath(path string) (industry, brandID, softwareProductID string, ok bool) {
	rest := strings.TrimPrefix(path, registerPrefix)
	segments := strings.Split(rest, "/")
	if len(segments) != 7 ||
		segments[1] != "data-recipients" || segments[2] != "brands" ||
		segments[4] != "software-products" || segments[6] != "ssa" {
		return "", "", "", false
	}
	if segments[0] == "" || segments[3] == "" || segments[5] == "" {
		return "", "", "", false
	}
	return segments[0], segments[3], segments[5], true
}

// getSoftwareStatementAssertion sequences the issuance pipeline. The
// ordering is externally observable and fixed: version negotiation, then
// authentication, then resolution and status gating, then build and sign.
// The first failure wins and no partial response is ever written.
func (a *API) getSoftwareStatementAssertion(w http.ResponseWriter, r *http.Request, industry, brandID, softwareProductID string) {
	version, err := ssa.NegotiateVersion(r.Header.Get("x-v"))
	if err != nil {
		obs.AssertionRejected("unsupported_version")
		writeAPIError(w, http.StatusNotAcceptable, codeUnsupportedVersion, "Unsupported Version")
		return
	}

	caller, err := a.authenticate(r)
	if err != nil {
		obs.AssertionRejected("unauthenticated")
		unauthorized(w)
		return
	}
	ctx := auth.ContextWithCaller(r.Context(), caller)

	assertion, err := a.issuer.Issue(ctx, ssa.IssueRequest{
		Industry:          industry,
		BrandID:           brandID,
		SoftwareProductID: softwareProductID,
		Version:           version,
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidIndustry):
			obs.AssertionRejected("invalid_industry")
			writeAPIError(w, http.StatusBadRequest, codeInvalidIndustry, "Invalid Industry")
		case errors.Is(err, registry.ErrNotFound):
			obs.AssertionRejected("not_found")
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, ssa.ErrNotAuthorized):
			obs.AssertionRejected("not_authorized")
			_ = audit.LogEvent(ctx, "ssa.denied", map[string]any{
				"industry":            industry,
				"brand_id":            brandID,
				"software_product_id": softwareProductID,
			})
			w.WriteHeader(http.StatusForbidden)
		default:
			obs.AssertionRejected("internal")
			obs.Logger().Printf(`{"level":"error","msg":"ssa issuance failed","error":%q}`, err.Error())
			writeAPIError(w, http.StatusInternalServerError, codeUnexpectedError, "Unexpected Error")
		}
		return
	}

	obs.AssertionIssued(industry, version)
	_ = audit.LogEvent(ctx, "ssa.issued", map[string]any{
		"industry":            industry,
		"brand_id":            brandID,
		"software_product_id": softwareProductID,
		"version":             version,
	})

	w.Header().Set("x-v", strconv.Itoa(version))
	w.Header().Set("Content-Type", "application/jwt")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(assertion))
}

// handleJWKS publishes the assertion signing key set. Relying parties fetch
// it to validate SSA signatures against the kid in the assertion header.
func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, a.signer.JWKS())
}
