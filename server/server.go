// Package server exposes interpreters over Connect (HTTP/JSON and binary
// protobuf) and the Language Server Protocol.
package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/rexx/vm"
	"github.com/chazu/rexx/vm/dist"
)

var log = commonlog.GetLogger("rexx.server")

// Server serves the evaluation and address services. Every request runs
// on one ScriptWorker goroutine.
type Server struct {
	worker *ScriptWorker
	mux    *http.ServeMux
}

// New creates a Server whose scripts share registry. opts configure every
// interpreter the server builds.
func New(registry *vm.TargetRegistry, opts ...vm.Option) *Server {
	worker := NewScriptWorker(registry, opts...)
	s := &Server{
		worker: worker,
		mux:    http.NewServeMux(),
	}

	evalSvc := NewEvalService(worker)
	addrSvc := NewAddressService(worker)

	s.mux.Handle(dist.EvalRunProcedure, connect.NewUnaryHandler(dist.EvalRunProcedure, evalSvc.Run))
	s.mux.Handle(dist.EvalCheckSyntaxProcedure, connect.NewUnaryHandler(dist.EvalCheckSyntaxProcedure, evalSvc.CheckSyntax))
	s.mux.Handle(dist.AddressSendProcedure, connect.NewUnaryHandler(dist.AddressSendProcedure, addrSvc.Send))
	s.mux.Handle(dist.AddressListProcedure, connect.NewUnaryHandler(dist.AddressListProcedure, addrSvc.List))

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("rexx server listening on %s", addr)
	log.Noticef("  run:  http://%s%s", addr, dist.EvalRunProcedure)
	log.Noticef("  send: http://%s%s", addr, dist.AddressSendProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the worker.
func (s *Server) Stop() {
	s.worker.Stop()
}
