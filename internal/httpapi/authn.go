package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"dsregister.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate validates the bearer token and binds it to the mTLS client
// certificate of the current connection. Any failure, including an absent
// token, yields auth.ErrUnauthenticated.
func (a *API) authenticate(r *http.Request) (*auth.AccessClaims, error) {
	if a.verifier == nil {
		return nil, auth.ErrUnauthenticated
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}
	return a.verifier.Verify(token, clientCertThumbprint(r))
}

// clientCertThumbprint reads the verified connection identity established by
// the transport layer. Empty when the connection carried no client
// certificate, which can never satisfy holder-of-key binding.
func clientCertThumbprint(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return auth.CertThumbprint(r.TLS.PeerCertificates[0])
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
