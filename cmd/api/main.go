package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"dsregister.org/internal/auth"
	"dsregister.org/internal/httpapi"
	"dsregister.org/internal/obs"
	"dsregister.org/internal/registry"
	"dsregister.org/internal/ssa"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("REGISTER_COMMIT"))

	// Registry store: Postgres when a DSN is configured, in-memory otherwise
	// (local development only).
	var (
		db    *sql.DB
		store registry.Store
	)
	if dsn := os.Getenv("REGISTER_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = registry.NewPGStore(db)
	} else {
		log.Printf("REGISTER_PG_DSN not set, using in-memory register")
		store = registry.NewInMemory()
	}

	signer, err := loadSigner()
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}

	verifier, err := loadVerifier()
	if err != nil {
		log.Fatalf("token verifier: %v", err)
	}

	issuer := ssa.NewService(store, signer)
	if iss := os.Getenv("REGISTER_SSA_ISSUER"); iss != "" {
		issuer = ssa.NewService(store, signer, ssa.WithIssuer(iss))
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, issuer, signer, verifier)

	addr := os.Getenv("REGISTER_ADDR")
	if addr == "" {
		addr = ":8443"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	certFile := os.Getenv("REGISTER_TLS_CERT_FILE")
	keyFile := os.Getenv("REGISTER_TLS_KEY_FILE")
	if certFile != "" && keyFile != "" {
		srv.TLSConfig = mtlsConfig()
	}

	log.Printf("Starting register-api %s on %s", version, srv.Addr)

	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("TLS not configured, serving plain HTTP (development only)")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// loadSigner reads the SSA signing key, or generates an ephemeral one for
// local development when none is configured.
func loadSigner() (*ssa.Signer, error) {
	if path := os.Getenv("REGISTER_SIGNING_KEY_FILE"); path != "" {
		pemData, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		key, err := ssa.ParsePrivateKeyPEM(pemData)
		if err != nil {
			return nil, err
		}
		return ssa.NewSigner(key)
	}
	log.Printf("REGISTER_SIGNING_KEY_FILE not set, generating ephemeral signing key")
	key, err := ssa.GenerateKey()
	if err != nil {
		return nil, err
	}
	return ssa.NewSigner(key)
}

// loadVerifier configures access-token validation against the ecosystem
// identity provider.
func loadVerifier() (*auth.Verifier, error) {
	issuer := os.Getenv("REGISTER_IDP_ISSUER")
	audience := os.Getenv("REGISTER_IDP_AUDIENCE")
	if audience == "" {
		audience = "dsr-register"
	}

	path := os.Getenv("REGISTER_IDP_PUBLIC_KEY_FILE")
	if path == "" {
		log.Printf("REGISTER_IDP_PUBLIC_KEY_FILE not set, all bearer tokens will be rejected")
		return auth.NewVerifier(nil, issuer, audience), nil
	}
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, err := auth.ParsePublicKeyPEM(pemData)
	if err != nil {
		return nil, err
	}
	return auth.NewVerifier(pub, issuer, audience), nil
}

// mtlsConfig requires a client certificate on every connection. Chain
// validation runs against the configured CA when provided; the SSA endpoint
// additionally binds tokens to the presented certificate's thumbprint.
func mtlsConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequireAnyClientCert,
	}
	if caFile := os.Getenv("REGISTER_CLIENT_CA_FILE"); caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			log.Fatalf("read client CA: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			log.Fatalf("no certificates in %s", caFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}
