// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package nvhttp serves the GameStream control protocol: a plaintext
// listener on the base port for discovery and pairing, and a mutually
// authenticated TLS listener five ports below it for everything else.
package nvhttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/julienschmidt/httprouter"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/birwin88/apollo/lib/config"
	"github.com/birwin88/apollo/lib/events"
	"github.com/birwin88/apollo/lib/ledger"
	"github.com/birwin88/apollo/lib/netutil"
	"github.com/birwin88/apollo/lib/pairing"
	"github.com/birwin88/apollo/lib/stream"
	"github.com/birwin88/apollo/lib/svcutil"
	"github.com/birwin88/apollo/lib/sync"
	"github.com/birwin88/apollo/lib/tlsutil"
)

const unauthorizedMessage = "The client is not authorized. Certificate verification failed."

type Service struct {
	svcutil.ServiceWithError

	cfg      config.Configuration
	cert     tls.Certificate
	ldg      *ledger.Ledger
	pairMgr  *pairing.Manager
	catalog  stream.Catalog
	streamer stream.Streamer
	probe    stream.VideoProbe
	evLogger *events.Logger

	mut       sync.Mutex
	hostAudio bool
	nextID    int

	started chan string // test hook, delivers the HTTPS listener address
}

func New(cfg config.Configuration, cert tls.Certificate, ldg *ledger.Ledger, pairMgr *pairing.Manager, catalog stream.Catalog, streamer stream.Streamer, probe stream.VideoProbe, evLogger *events.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		cert:     cert,
		ldg:      ldg,
		pairMgr:  pairMgr,
		catalog:  catalog,
		streamer: streamer,
		probe:    probe,
		evLogger: evLogger,
		mut:      sync.NewMutex(),
	}
	s.ServiceWithError = svcutil.AsService(s.serve, s.String())
	return s
}

func (s *Service) String() string {
	return fmt.Sprintf("nvhttp.Service@%p", s)
}

// Pin completes a parked pairing request with the user-supplied PIN. An
// optional name overrides the device name the client reported.
func (s *Service) Pin(pin, name string) bool {
	return s.pairMgr.Pin(pin, name)
}

// RequestOTP arms the one-time-PIN slot and returns the PIN to display.
func (s *Service) RequestOTP(passphrase, deviceName string) string {
	return s.pairMgr.RequestOTP(passphrase, deviceName)
}

// Clients lists the paired devices.
func (s *Service) Clients() []ledger.NamedCert {
	return s.ldg.Clients()
}

// Unpair removes one paired device by UUID.
func (s *Service) Unpair(uuid string) (bool, error) {
	found, err := s.ldg.UnpairClient(uuid)
	if found && err == nil {
		s.evLogger.Log(events.DeviceUnpaired, map[string]string{"uuid": uuid})
	}
	return found, err
}

// EraseClients drops every paired device.
func (s *Service) EraseClients() error {
	if err := s.ldg.EraseAllClients(); err != nil {
		return err
	}
	s.evLogger.Log(events.ClientsErased, nil)
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", netutil.ListenAddr(s.cfg.Address, s.cfg.HTTPPort()))
	if err != nil {
		return err
	}
	defer httpLn.Close()

	tlsCfg := tlsutil.SecureDefaultWithTLS12()
	tlsCfg.Certificates = []tls.Certificate{s.cert}
	// Any client certificate is accepted at the handshake; trust is
	// checked per request against the pairing ledger, so unpaired
	// clients still get a well-formed 401 response.
	tlsCfg.ClientAuth = tls.RequireAnyClientCert

	httpsLn, err := tls.Listen("tcp", netutil.ListenAddr(s.cfg.Address, s.cfg.HTTPSPort()), tlsCfg)
	if err != nil {
		return err
	}
	defer httpsLn.Close()

	httpSrv := &http.Server{
		Handler:     metricsMiddleware(s.httpRouter()),
		ReadTimeout: 15 * time.Second,
		// Prevent the HTTP server from logging stuff on its own. The
		// things we care about we log ourselves from the handlers.
		ErrorLog: log.New(io.Discard, "", 0),
	}
	httpsSrv := &http.Server{
		Handler:     metricsMiddleware(s.verifyMiddleware(s.httpsRouter())),
		ReadTimeout: 15 * time.Second,
		ErrorLog:    log.New(io.Discard, "", 0),
	}

	l.Infoln("Control API listening on", httpLn.Addr(), "and", httpsLn.Addr(), "(TLS)")

	serveError := make(chan error, 2)
	go func() {
		select {
		case serveError <- httpSrv.Serve(httpLn):
		case <-ctx.Done():
		}
	}()
	go func() {
		select {
		case serveError <- httpsSrv.Serve(httpsLn):
		case <-ctx.Done():
		}
	}()

	s.evLogger.Log(events.StartupComplete, nil)
	if s.started != nil {
		// only set when run by the tests
		select {
		case <-ctx.Done():
		case s.started <- httpsLn.Addr().String():
		}
	}

	err = nil
	select {
	case <-ctx.Done():
		l.Debugln("shutting down (stop)")
	case err = <-serveError:
		l.Warnln("Control API:", err, "(restarting)")
	}

	// Give in-flight requests a moment to finish.
	timeout, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := httpSrv.Shutdown(timeout); err == timeout.Err() {
		httpSrv.Close()
	}
	if err := httpsSrv.Shutdown(timeout); err == timeout.Err() {
		httpsSrv.Close()
	}

	return err
}

// httpRouter serves the plaintext side: discovery and pairing only.
func (s *Service) httpRouter() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/serverinfo", s.serverInfo)
	router.HandlerFunc(http.MethodGet, "/pair", s.pair)
	router.NotFound = http.HandlerFunc(notFound)
	return router
}

// httpsRouter serves the full endpoint set to verified clients.
func (s *Service) httpsRouter() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/serverinfo", s.serverInfo)
	router.HandlerFunc(http.MethodGet, "/pair", s.pair)
	router.HandlerFunc(http.MethodGet, "/applist", s.appList)
	router.HandlerFunc(http.MethodGet, "/appasset", s.appAsset)
	router.HandlerFunc(http.MethodGet, "/launch", s.launch)
	router.HandlerFunc(http.MethodGet, "/resume", s.resume)
	router.HandlerFunc(http.MethodGet, "/cancel", s.cancel)
	router.NotFound = http.HandlerFunc(notFound)
	return router
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeXML(w, newRoot(404))
}

type peerCertKey struct{}

// verifyMiddleware checks the TLS client certificate against the ledger
// and attaches the matching NamedCert to the request. Unknown certificates
// get a 401 and never reach a handler.
func (s *Service) verifyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			s.unauthorized(w, r)
			return
		}
		nc, err := s.ldg.Verifier().Verify(r.TLS.PeerCertificates[0])
		if err != nil {
			l.Debugln("rejecting client certificate:", err)
			s.unauthorized(w, r)
			return
		}
		l.Debugln("device", nc.Name, "verified")
		ctx := context.WithValue(r.Context(), peerCertKey{}, nc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) unauthorized(w http.ResponseWriter, r *http.Request) {
	root := newRoot(401)
	root.setAttr("query", r.URL.Path)
	root.setAttr("status_message", unauthorizedMessage)
	writeXML(w, root)
}

// peerFrom returns the verified client identity, if the request arrived
// over the authenticated listener.
func peerFrom(r *http.Request) (ledger.NamedCert, bool) {
	nc, ok := r.Context().Value(peerCertKey{}).(ledger.NamedCert)
	return nc, ok
}

func metricsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := metrics.GetOrRegisterTimer(r.URL.Path, nil)
		t0 := time.Now()
		h.ServeHTTP(w, r)
		t.UpdateSince(t0)
	})
}

// localAddr is the address of our end of the connection, which ends up in
// serverinfo and session URLs.
func localAddr(r *http.Request) (netip.Addr, bool) {
	addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if !ok {
		return netip.Addr{}, false
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr(), true
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr(), true
}
