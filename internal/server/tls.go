package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// TLSConfig holds optional (mutual) TLS settings for the incident API.
type TLSConfig struct {
	ServerCert   string
	ServerKey    string
	ClientCACert string
	RequireAuth  bool
}

// LoadTLSConfig reads TLS settings from LIFELINK_TLS_* environment variables.
func LoadTLSConfig() TLSConfig {
	return TLSConfig{
		ServerCert:   os.Getenv("LIFELINK_TLS_CERT"),
		ServerKey:    os.Getenv("LIFELINK_TLS_KEY"),
		ClientCACert: os.Getenv("LIFELINK_TLS_CLIENT_CA"),
		RequireAuth:  os.Getenv("LIFELINK_TLS_REQUIRE_MTLS") == "true",
	}
}

// Enabled reports whether a certificate pair is configured.
func (c TLSConfig) Enabled() bool { return c.ServerCert != "" && c.ServerKey != "" }

func (c TLSConfig) build() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("server cert and key required for TLS")
	}
	cert, err := tls.LoadX509KeyPair(c.ServerCert, c.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if c.RequireAuth && c.ClientCACert != "" {
		caCert, err := os.ReadFile(c.ClientCACert)
		if err != nil {
			return nil, fmt.Errorf("read client CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse client CA certificate")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		log.Info().Str("ca_cert", c.ClientCACert).Msg("mTLS client authentication enabled")
	}
	return cfg, nil
}

// RequireClientCert rejects TLS requests that carry no client certificate.
func RequireClientCert(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil {
				next.ServeHTTP(w, r)
				return
			}
			if required && len(r.TLS.PeerCertificates) == 0 {
				writeError(w, http.StatusUnauthorized, "client certificate required")
				return
			}
			if len(r.TLS.PeerCertificates) > 0 {
				c := r.TLS.PeerCertificates[0]
				log.Debug().Str("subject", c.Subject.String()).Msg("mTLS client authenticated")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ListenAndServeTLS serves the incident API over TLS, optionally requiring
// client certificates.
func (s *Server) ListenAndServeTLS(addr string, c TLSConfig) error {
	tlsCfg, err := c.build()
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           RequireClientCert(c.RequireAuth)(s.Handler()),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Bool("mtls_required", c.RequireAuth).Msg("Serving incident API with TLS")
	return s.srv.ListenAndServeTLS("", "")
}
