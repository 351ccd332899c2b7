package httpapi

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	"dsregister.org/internal/auth"
	"dsregister.org/internal/registry"
	"dsregister.org/internal/ssa"
)

const (
	testBrandID   = "20c0864b-ceef-4de0-8944-eb0962f825eb"
	testProductID = "86ecb655-9eba-409c-9be3-59e7adf7080d"
	testIdpIssuer = "https://idp.example.org"
	testAudience  = "dsr-register"

	ssaPathFmt = "/dsr-register/v1/%s/data-recipients/brands/%s/software-products/%s/ssa"
)

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	store  *registry.InMemory
	signer *ssa.Signer
	idpKey *rsa.PrivateKey

	certA tls.Certificate
	certB tls.Certificate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate idp key: %v", err)
	}
	verifier := auth.NewVerifier(&idpKey.PublicKey, testIdpIssuer, testAudience)

	signKey, err := ssa.GenerateKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	signer, err := ssa.NewSigner(signKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	store := registry.NewInMemory()
	store.AddParticipation(registry.Participation{
		ID: "participation-1", Industry: registry.IndustryBanking, Status: registry.StatusActive,
	})
	store.AddBrand(registry.Brand{
		ID: testBrandID, ParticipationID: "participation-1",
		Name: "Example Brand", Status: registry.StatusActive,
	})
	store.AddSoftwareProduct(registry.SoftwareProduct{
		ID: testProductID, BrandID: testBrandID,
		Name:             "Example Product",
		Description:      "An example software product",
		ClientURI:        "https://example.org",
		RedirectURIs:     []string{"https://example.org/cb"},
		LogoURI:          "https://example.org/logo.png",
		TosURI:           "https://example.org/tos",
		PolicyURI:        "https://example.org/policy",
		JwksURI:          "https://example.org/jwks",
		RevocationURI:    "https://example.org/revoke",
		RecipientBaseURI: "https://example.org",
		Scope:            "registry:read",
		Status:           registry.StatusActive,
	})

	api := New(ReadyProbe{}, "test", ssa.NewService(store, signer), signer, verifier)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewUnstartedServer(api.Handler())
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	return &testEnv{
		t:      t,
		srv:    srv,
		store:  store,
		signer: signer,
		idpKey: idpKey,
		certA:  newClientCert(t, "client-a"),
		certB:  newClientCert(t, "client-b"),
	}
}

func newClientCert(t *testing.T, cn string) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create client certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// client returns an HTTP client presenting the given certificate over mTLS.
func (e *testEnv) client(cert tls.Certificate) *http.Client {
	base := e.srv.Client().Transport.(*http.Transport)
	cfg := base.TLSClientConfig.Clone()
	cfg.Certificates = []tls.Certificate{cert}
	return &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
}

// mintToken issues an access token bound to the given certificate's
// thumbprint, standing in for the external identity provider.
func (e *testEnv) mintToken(cert tls.Certificate, mutate func(jwt.MapClaims)) string {
	e.t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		e.t.Fatalf("parse leaf certificate: %v", err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       testIdpIssuer,
		"aud":       testAudience,
		"iat":       now.Unix(),
		"exp":       now.Add(10 * time.Minute).Unix(),
		"client_id": "client-1",
		"scope":     []string{"registry:read"},
		"cnf":       map[string]any{"x5t#S256": auth.CertThumbprint(leaf)},
	}
	if mutate != nil {
		mutate(claims)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodPS256, claims).SignedString(e.idpKey)
	if err != nil {
		e.t.Fatalf("mint token: %v", err)
	}
	return raw
}

type ssaRequest struct {
	industry  string
	brandID   string
	productID string
	xv        string
	hasXV     bool
	token     string
	cert      tls.Certificate
}

func (e *testEnv) getSSA(req ssaRequest) *http.Response {
	e.t.Helper()
	url := e.srv.URL + fmt.Sprintf(ssaPathFmt, req.industry, req.brandID, req.productID)
	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if req.hasXV {
		httpReq.Header.Set("x-v", req.xv)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	resp, err := e.client(req.cert).Do(httpReq)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// validRequest is the baseline: certificate A, a token bound to it, the
// seeded banking brand and product.
func (e *testEnv) validRequest() ssaRequest {
	return ssaRequest{
		industry:  "banking",
		brandID:   testBrandID,
		productID: testProductID,
		token:     e.mintToken(e.certA, nil),
		cert:      e.certA,
	}
}

func (e *testEnv) fetchJWKS() jose.JSONWebKeySet {
	e.t.Helper()
	resp, err := e.client(e.certA).Get(e.srv.URL + "/dsr-register/v1/jwks")
	if err != nil {
		e.t.Fatalf("fetch jwks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("jwks status %d", resp.StatusCode)
	}
	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		e.t.Fatalf("decode jwks: %v", err)
	}
	return jwks
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func decodeErrors(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestGetSSASuccessAndSignature(t *testing.T) {
	e := newTestEnv(t)

	req := e.validRequest()
	req.hasXV = true
	req.xv = "2"
	resp := e.getSSA(req)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("x-v"); got != "2" {
		t.Fatalf("x-v echo %q, want 2", got)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/jwt" {
		t.Fatalf("content type %q", ct)
	}

	raw := readBody(t, resp)
	jwks := e.fetchJWKS()
	if len(jwks.Keys) != 1 {
		t.Fatalf("expected one published key, got %d", len(jwks.Keys))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"PS256"}),
		jwt.WithIssuer("dsr-register"),
		jwt.WithLeeway(2*time.Minute),
	)
	parsed, err := parser.ParseWithClaims(raw, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		if token.Header["kid"] != jwks.Keys[0].KeyID {
			return nil, fmt.Errorf("kid %v not in discovery document", token.Header["kid"])
		}
		return jwks.Keys[0].Key.(*rsa.PublicKey), nil
	})
	if err != nil {
		t.Fatalf("assertion failed validation against published key: %v", err)
	}

	claims := parsed.Claims.(jwt.MapClaims)
	if claims["org_id"] != testBrandID {
		t.Fatalf("org_id %v", claims["org_id"])
	}
	if claims["software_id"] != testProductID {
		t.Fatalf("software_id %v", claims["software_id"])
	}
	if claims["software_roles"] != "data-recipient-software-product" {
		t.Fatalf("software_roles %v", claims["software_roles"])
	}
	exp := int64(claims["exp"].(float64))
	iat := int64(claims["iat"].(float64))
	if exp-iat != 600 {
		t.Fatalf("exp - iat = %d, want 600", exp-iat)
	}
	if _, ok := claims["recipient_base_uri"]; !ok {
		t.Fatal("v2 assertion missing recipient_base_uri")
	}
}

func TestGetSSAVersionNegotiation(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		name       string
		xv         string
		hasXV      bool
		wantStatus int
		wantEcho   string
	}{
		{name: "absent", wantStatus: http.StatusOK, wantEcho: "1"},
		{name: "blank", hasXV: true, xv: "", wantStatus: http.StatusOK, wantEcho: "1"},
		{name: "one", hasXV: true, xv: "1", wantStatus: http.StatusOK, wantEcho: "1"},
		{name: "two", hasXV: true, xv: "2", wantStatus: http.StatusOK, wantEcho: "2"},
		{name: "out of range", hasXV: true, xv: "3", wantStatus: http.StatusNotAcceptable},
		{name: "not numeric", hasXV: true, xv: "foo", wantStatus: http.StatusNotAcceptable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := e.validRequest()
			req.hasXV = tc.hasXV
			req.xv = tc.xv
			resp := e.getSSA(req)

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if tc.wantStatus == http.StatusOK {
				if got := resp.Header.Get("x-v"); got != tc.wantEcho {
					t.Fatalf("x-v echo %q, want %q", got, tc.wantEcho)
				}
				// recipient_base_uri appears from version 2 onward.
				claims := jwt.MapClaims{}
				if _, _, err := jwt.NewParser().ParseUnverified(readBody(t, resp), claims); err != nil {
					t.Fatalf("parse assertion: %v", err)
				}
				_, hasRecipient := claims["recipient_base_uri"]
				if wantRecipient := tc.wantEcho == "2"; hasRecipient != wantRecipient {
					t.Fatalf("recipient_base_uri present=%v at version %s", hasRecipient, tc.wantEcho)
				}
				return
			}

			body := decodeErrors(t, resp)
			if len(body.Errors) != 1 || body.Errors[0].Code != "Header/UnsupportedVersion" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestGetSSAAuthenticationFailures(t *testing.T) {
	e := newTestEnv(t)

	expired := e.mintToken(e.certA, func(c jwt.MapClaims) {
		c["iat"] = time.Now().Add(-20 * time.Minute).Unix()
		c["exp"] = time.Now().Add(-10 * time.Minute).Unix()
	})

	cases := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "invalid token", token: "foo"},
		{name: "expired token", token: expired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := e.validRequest()
			req.token = tc.token
			resp := e.getSSA(req)

			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status %d, want 401", resp.StatusCode)
			}
			if resp.Header.Get("WWW-Authenticate") == "" {
				t.Fatal("missing authentication challenge")
			}
		})
	}
}

func TestGetSSADifferentHolderOfKey(t *testing.T) {
	e := newTestEnv(t)

	// Token bound to certificate A, connection opened with certificate B.
	req := e.validRequest()
	req.token = e.mintToken(e.certA, nil)
	req.cert = e.certB
	resp := e.getSSA(req)

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
}

func TestGetSSAVersionPrecedesAuthentication(t *testing.T) {
	e := newTestEnv(t)

	// Both the version and the token are bad; version negotiation runs
	// first, so 406 wins.
	req := e.validRequest()
	req.token = ""
	req.hasXV = true
	req.xv = "9"
	resp := e.getSSA(req)

	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("status %d, want 406", resp.StatusCode)
	}
}

func TestGetSSAIndustry(t *testing.T) {
	e := newTestEnv(t)

	t.Run("unrecognized value", func(t *testing.T) {
		req := e.validRequest()
		req.industry = "foo"
		resp := e.getSSA(req)

		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status %d, want 400", resp.StatusCode)
		}
		body := decodeErrors(t, resp)
		if len(body.Errors) != 1 || body.Errors[0].Code != "Field/InvalidIndustry" {
			t.Fatalf("unexpected error body: %+v", body)
		}
	})

	t.Run("missing segment", func(t *testing.T) {
		req := e.validRequest()
		req.industry = ""
		resp := e.getSSA(req)

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status %d, want 404", resp.StatusCode)
		}
	})

	t.Run("valid but wrong industry", func(t *testing.T) {
		req := e.validRequest()
		req.industry = "energy"
		resp := e.getSSA(req)

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status %d, want 404", resp.StatusCode)
		}
	})
}

func TestGetSSAUnknownIdentifiers(t *testing.T) {
	e := newTestEnv(t)

	t.Run("unknown brand", func(t *testing.T) {
		req := e.validRequest()
		req.brandID = "b8f6dbcb-0000-0000-0000-000000000000"
		if resp := e.getSSA(req); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status %d, want 404", resp.StatusCode)
		}
	})

	t.Run("unknown software product", func(t *testing.T) {
		req := e.validRequest()
		req.productID = "b8f6dbcb-0000-0000-0000-000000000000"
		if resp := e.getSSA(req); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status %d, want 404", resp.StatusCode)
		}
	})

	t.Run("identifier case is insignificant", func(t *testing.T) {
		req := e.validRequest()
		req.brandID = "20C0864B-CEEF-4DE0-8944-EB0962F825EB"
		req.productID = "86ECB655-9EBA-409C-9BE3-59E7ADF7080D"
		if resp := e.getSSA(req); resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d, want 200", resp.StatusCode)
		}
	})
}

func TestGetSSAStatusGate(t *testing.T) {
	e := newTestEnv(t)

	check := func(t *testing.T, wantStatus int) {
		t.Helper()
		if resp := e.getSSA(e.validRequest()); resp.StatusCode != wantStatus {
			t.Fatalf("status %d, want %d", resp.StatusCode, wantStatus)
		}
	}

	t.Run("participation not active", func(t *testing.T) {
		for _, status := range []registry.Status{
			registry.StatusRemoved, registry.StatusSuspended, registry.StatusRevoked,
			registry.StatusSurrendered, registry.StatusInactive,
		} {
			e.store.SetParticipationStatus("participation-1", status)
			check(t, http.StatusForbidden)
		}
		e.store.SetParticipationStatus("participation-1", registry.StatusActive)
		check(t, http.StatusOK)
	})

	t.Run("brand not active", func(t *testing.T) {
		for _, status := range []registry.Status{registry.StatusInactive, registry.StatusRemoved} {
			e.store.SetBrandStatus(testBrandID, status)
			check(t, http.StatusForbidden)
		}
		e.store.SetBrandStatus(testBrandID, registry.StatusActive)
		check(t, http.StatusOK)
	})

	t.Run("software product not active", func(t *testing.T) {
		for _, status := range []registry.Status{registry.StatusInactive, registry.StatusRemoved} {
			e.store.SetSoftwareProductStatus(testProductID, status)
			check(t, http.StatusForbidden)
		}
		e.store.SetSoftwareProductStatus(testProductID, registry.StatusActive)
		check(t, http.StatusOK)
	})
}

func TestJWKSEndpoint(t *testing.T) {
	e := newTestEnv(t)

	jwks := e.fetchJWKS()
	if len(jwks.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(jwks.Keys))
	}
	key := jwks.Keys[0]
	if key.KeyID != e.signer.KeyID() {
		t.Fatalf("kid %q, want %q", key.KeyID, e.signer.KeyID())
	}
	if key.Use != "sig" || key.Algorithm != "PS256" {
		t.Fatalf("unexpected key metadata: use=%q alg=%q", key.Use, key.Algorithm)
	}

	resp, err := e.client(e.certA).Post(e.srv.URL+"/dsr-register/v1/jwks", "application/json", nil)
	if err != nil {
		t.Fatalf("post jwks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", resp.StatusCode)
	}
}
