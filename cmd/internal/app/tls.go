package app

import (
	"crypto/tls"
	"net/http"

	"golang.org/x/crypto/acme/autocert"
)

// listenAndServe starts srv as plain HTTP, HTTPS from cert files, or HTTPS
// with certificates obtained through ACME for the configured hosts.
func (a *App) listenAndServe(srv *http.Server) error {
	switch {
	case a.cfg.TLSCertFile != "":
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		return srv.ListenAndServeTLS(a.cfg.TLSCertFile, a.cfg.TLSKeyFile)

	case len(a.cfg.TLSAutocertHosts) > 0:
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(a.cfg.TLSAutocertHosts...),
			Cache:      autocert.DirCache(a.cfg.TLSAutocertCache),
		}
		cfg := m.TLSConfig()
		cfg.MinVersion = tls.VersionTLS12
		srv.TLSConfig = cfg
		return srv.ListenAndServeTLS("", "")

	default:
		return srv.ListenAndServe()
	}
}

func (a *App) scheme() string {
	if a.cfg.TLSEnabled() {
		return "https"
	}
	return "http"
}
