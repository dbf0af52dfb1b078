package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// ServeHTTP3 serves h over HTTP/3 on the UDP side of addr until ctx is
// cancelled.
func ServeHTTP3(ctx context.Context, log *slog.Logger, addr string, h http.Handler, cert tls.Certificate) error {
	srv := &http3.Server{
		Addr:      addr,
		Handler:   h,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}

	log.Info("debug API listening over HTTP/3", "addr", addr)
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	err := srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// AltSvc advertises the HTTP/3 endpoint listening on addr on responses
// served over TCP. h is returned unchanged if addr has no port.
func AltSvc(h http.Handler, addr string) http.Handler {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return h
	}
	value := `h3=":` + port + `"; ma=86400`
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", value)
		h.ServeHTTP(w, r)
	})
}
