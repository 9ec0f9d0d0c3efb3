// Package server exposes a running emfrp machine over connect. Handlers speak
// the Connect and gRPC protocols with a CBOR codec on a single port.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"github.com/chazu/emfrp/machine"
	"github.com/chazu/emfrp/store"
)

var log = commonlog.GetLogger("emfrp.server")

// MachineServer serves one machine.
type MachineServer struct {
	id      string
	machine *machine.Machine
	mux     *http.ServeMux
}

// ServerOption configures a MachineServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	programs *store.Store
	id       string
}

// WithProgramStore lets clients load stored programs by name.
func WithProgramStore(s *store.Store) ServerOption {
	return func(c *serverConfig) { c.programs = s }
}

// WithID overrides the generated machine ID.
func WithID(id string) ServerOption {
	return func(c *serverConfig) { c.id = id }
}

// New creates a MachineServer around m.
func New(m *machine.Machine, opts ...ServerOption) *MachineServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	s := &MachineServer{
		id:      cfg.id,
		machine: m,
		mux:     http.NewServeMux(),
	}

	svc := NewMachineService(cfg.id, m, cfg.programs)
	path, handler := NewMachineServiceHandler(svc)
	s.mux.Handle(path, handler)
	return s
}

// ID returns the machine ID reported by Info.
func (s *MachineServer) ID() string { return s.id }

// Handler returns the HTTP handler for all services.
func (s *MachineServer) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done.
// The address should be in the form "host:port" or ":port".
func (s *MachineServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *MachineServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	log.Noticef("machine %s listening on %s", s.id, ln.Addr())
	log.Infof("  Connect (CBOR): http://%s%s", ln.Addr(), TickProcedure)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	}
}

// Stop shuts down the machine behind the server.
func (s *MachineServer) Stop() {
	s.machine.Stop()
}
