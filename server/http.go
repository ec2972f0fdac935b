/******************************************************************************
 *
 *  Description :
 *
 *  Web server initialization and shutdown.
 *
 *****************************************************************************/

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/janrain/backplane/server/logs"
	"golang.org/x/crypto/acme/autocert"
)

type tlsAutocertConfig struct {
	// Domains to support by autocert
	Domains []string `json:"domains"`
	// Name of directory where auto-certificates are cached, e.g. /etc/letsencrypt/live/your-domain-here
	CertCache string `json:"cache"`
	// Contact email for letsencrypt
	Email string `json:"email"`
}

type tlsConfig struct {
	// Flag enabling TLS
	Enabled bool `json:"enabled"`
	// Listen for connections on this address:port and redirect them to HTTPS port.
	RedirectHTTP string `json:"http_redirect"`
	// Enable Strict-Transport-Security by setting max_age > 0
	StrictMaxAge int `json:"strict_max_age"`
	// ACME autocert config, e.g. letsencrypt.org
	Autocert *tlsAutocertConfig `json:"autocert"`
	// If Autocert is not defined, provide file names of static certificate and key
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// parseTLSConfig decodes the tls config section and prepares the server TLS settings.
func parseTLSConfig(server *http.Server, raw json.RawMessage) (*tlsConfig, error) {
	var config tlsConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, errors.New("http: failed to parse tls_config: " + err.Error() + "(" + string(raw) + ")")
		}
	}
	if !config.Enabled {
		return &config, nil
	}

	if config.StrictMaxAge > 0 {
		globals.tlsStrictMaxAge = strconv.Itoa(config.StrictMaxAge)
	}

	// If port is not specified, use default https port (443),
	// otherwise it will default to 80
	if server.Addr == "" {
		server.Addr = ":https"
	}

	server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Autocert != nil {
		certManager := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(config.Autocert.Domains...),
			Cache:      autocert.DirCache(config.Autocert.CertCache),
			Email:      config.Autocert.Email,
		}

		server.TLSConfig.GetCertificate = certManager.GetCertificate
		if config.CertFile != "" || config.KeyFile != "" {
			logs.Warn.Printf("HTTP server: using autocert, static cert and key files are ignored")
			config.CertFile = ""
			config.KeyFile = ""
		}
	} else if config.CertFile == "" || config.KeyFile == "" {
		return nil, errors.New("HTTP server: missing certificate or key file names")
	}
	return &config, nil
}

func listenAndServe(addr string, mux *http.ServeMux, tlsRaw json.RawMessage, stop <-chan bool) error {
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logs.Err,
	}
	config, err := parseTLSConfig(server, tlsRaw)
	if err != nil {
		return err
	}
	server.Handler = wrapHandler(mux)

	shuttingDown := false
	httpdone := make(chan bool)

	go func() {
		var err error
		if config.Enabled {
			if config.RedirectHTTP != "" {
				logs.Info.Printf("Redirecting connections from HTTP at [%s] to HTTPS at [%s]",
					config.RedirectHTTP, server.Addr)
				go func() {
					if err := http.ListenAndServe(config.RedirectHTTP, tlsRedirect(server.Addr)); err != nil {
						logs.Err.Println("HTTP redirect failed:", err)
					}
				}()
			}

			logs.Info.Printf("Listening for client HTTPS connections on [%s]", server.Addr)
			err = server.ListenAndServeTLS(config.CertFile, config.KeyFile)
		} else {
			logs.Info.Printf("Listening for client HTTP connections on [%s]", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil {
			if shuttingDown {
				logs.Info.Println("HTTP server: stopped")
			} else {
				logs.Err.Println("HTTP server: failed", err)
			}
		}
		httpdone <- true
	}()

	// Wait for either a termination signal or an error
	select {
	case <-stop:
		// Flip the flag that we are terminating and close the Accept-ing socket, so no new connections are possible
		shuttingDown = true
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			// failure/timeout shutting down the server gracefully
			return err
		}

		// Wait for http server to stop Accept()-ing connections
		<-httpdone

	case <-httpdone:
	}
	return nil
}

// wrapHandler adds panic recovery, HSTS, gzip and request logging to the routes.
func wrapHandler(mux http.Handler) http.Handler {
	h := handlers.RecoveryHandler(handlers.RecoveryLogger(logs.Err), handlers.PrintRecoveryStack(true))(mux)
	h = hstsHandler(h)
	h = handlers.CompressHandler(h)
	return handlers.CustomLoggingHandler(logs.Info.Writer(), h, logRequest)
}

// logRequest writes one line per request with its processing time.
func logRequest(w io.Writer, p handlers.LogFormatterParams) {
	fmt.Fprintf(w, "%s %s %s %d %d %s\n", remoteAddr(p.Request), p.Request.Method, p.URL.RequestURI(),
		p.StatusCode, p.Size, time.Since(p.TimeStamp).Round(time.Microsecond))
}

// Wrapper for http.Handler which optionally adds a Strict-Transport-Security to the response
func hstsHandler(handler http.Handler) http.Handler {
	if globals.tlsStrictMaxAge != "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Strict-Transport-Security", "max-age="+globals.tlsStrictMaxAge)
			handler.ServeHTTP(w, r)
		})
	}
	return handler
}

// Redirect HTTP requests to HTTPS
func tlsRedirect(toPort string) http.HandlerFunc {
	if strings.HasSuffix(toPort, ":443") || strings.HasSuffix(toPort, ":https") {
		toPort = ""
	} else if i := strings.LastIndex(toPort, ":"); i >= 0 {
		toPort = toPort[i:]
	}
	return func(wrt http.ResponseWriter, req *http.Request) {
		host, _, _ := strings.Cut(req.Host, ":")
		target := "https://" + host + toPort + req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		http.Redirect(wrt, req, target, http.StatusTemporaryRedirect)
	}
}
