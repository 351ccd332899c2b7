package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"dsregister.org/internal/auth"
	"dsregister.org/internal/obs"
	"dsregister.org/internal/ssa"
)

// ReadyProbe is a simple readiness check (for example, a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer of the register.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	issuer   *ssa.Service
	signer   *ssa.Signer
	verifier *auth.Verifier

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, issuer *ssa.Service, signer *ssa.Signer, verifier *auth.Verifier) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		issuer:     issuer,
		signer:     signer,
		verifier:   verifier,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Register API: key discovery and SSA issuance
	a.mux.HandleFunc("/dsr-register/v1/", a.handleRegisterV1)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
