// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	gorillarpc "github.com/gorilla/rpc"
	gorillajson "github.com/gorilla/rpc/json"

	"github.com/bfix/gospel/logger"
)

// AdminServer exposes a read-only view of hub status over HTTP
// (`GET /status`) and JSON-RPC (`Status.Get`), bound to its own
// listener independent of the event transports.
type AdminServer struct {
	ln  net.Listener
	srv *http.Server
}

// newAdminServer binds addr and starts serving in the background.
// statusFn is called fresh on every request; it must be safe to call
// from arbitrary goroutines (Hub.Status is, since it only reads
// through peertable.Table's locked accessors).
func newAdminServer(addr string, statusFn func() HubStatus) (*AdminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusFn()); err != nil {
			logger.Printf(logger.WARN, "[hub/admin] encode status: %s\n", err.Error())
		}
	}).Methods(http.MethodGet)

	rpcSrv := gorillarpc.NewServer()
	rpcSrv.RegisterCodec(gorillajson.NewCodec(), "application/json")
	if err := rpcSrv.RegisterService(&statusService{statusFn}, "Status"); err != nil {
		ln.Close()
		return nil, err
	}
	r.Handle("/rpc", rpcSrv)

	srv := &http.Server{Handler: r}
	a := &AdminServer{ln: ln, srv: srv}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf(logger.WARN, "[hub/admin] serve: %s\n", err.Error())
		}
	}()
	return a, nil
}

// Addr returns the bound admin listener address.
func (a *AdminServer) Addr() net.Addr {
	return a.ln.Addr()
}

// Close shuts the admin HTTP server down.
func (a *AdminServer) Close() error {
	return a.srv.Shutdown(context.Background())
}

// statusService is the gorilla/rpc JSON-RPC service backing
// Status.Get.
type statusService struct {
	statusFn func() HubStatus
}

// StatusArgs is the (empty) argument type for Status.Get.
type StatusArgs struct{}

// Get returns the current HubStatus snapshot.
func (s *statusService) Get(r *http.Request, args *StatusArgs, reply *HubStatus) error {
	*reply = s.statusFn()
	return nil
}
