// Package operator implements the operator override Unix domain socket
// server (spec §6 "operator override: pin a function's tier, preventing
// further promotion/deoptimization").
//
// Protocol: one JSON request, one newline-terminated JSON response, per
// connection.
// Socket path: configurable (internal/config's OperatorConfig.SocketPath).
// Permissions: 0600, owned by the server process's user.
//
// Commands (JSON request -> JSON response):
//
//	{"cmd":"reset","fid":1234}
//	  -> Reverts FunctionId 1234 to the interpreter tier (T0) and clears
//	     any pin.
//	  -> Response: {"ok":true,"fid":1234,"prev_tier":"T3"}
//
//	{"cmd":"pin","fid":1234,"tier":"T2"}
//	  -> Installs FunctionId 1234 at the given tier and pins it there;
//	     the Decision Engine's further Install/Escalate/Decay calls are
//	     rejected until unpinned.
//	  -> Response: {"ok":true,"fid":1234,"pinned_tier":"T2"}
//
//	{"cmd":"unpin","fid":1234}
//	  -> Removes the pin, resuming normal tier transitions.
//	  -> Response: {"ok":true,"fid":1234}
//
//	{"cmd":"status","fid":1234}
//	  -> Returns the current tier, pin status, and transition count.
//	  -> Response: {"ok":true,"fid":1234,"tier":"T2","pinned":true,"transitions":7}
//
//	{"cmd":"list"}
//	  -> Returns every FunctionId with a dispatch slot (any FunctionId a
//	     command or the engine has touched, status queries included).
//	  -> Response: {"ok":true,"functions":[{"fid":1234,"tier":"T2","pinned":true},...]}
//
// Grounded directly on internal/operator/server.go (teacher): same
// protocol shape, same connection-handling discipline (bounded
// concurrency, bounded request size, read/write deadlines), generalized
// from a PID/escalation.State override to a FunctionId/TierLevel one —
// internal/dispatch.Table already carries the Pin/Unpin/IsPinned/Reset
// primitives this server drives (spec §4.I), so this package is a thin
// JSON protocol front-end over it rather than its own state store.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/aott/internal/dispatch"
	"github.com/octoreflex/aott/internal/types"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// FunctionStatus is a snapshot of one FunctionId's dispatch state, used
// by the "list" command.
type FunctionStatus struct {
	FID    types.FunctionId `json:"fid"`
	Tier   string           `json:"tier"`
	Pinned bool             `json:"pinned"`
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd  string           `json:"cmd"`            // reset | pin | unpin | status | list
	FID  types.FunctionId `json:"fid,omitempty"`  // target function
	Tier string           `json:"tier,omitempty"` // target tier for pin command
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK          bool             `json:"ok"`
	Error       string           `json:"error,omitempty"`
	FID         types.FunctionId `json:"fid,omitempty"`
	Tier        string           `json:"tier,omitempty"`
	PrevTier    string           `json:"prev_tier,omitempty"`
	PinnedTier  string           `json:"pinned_tier,omitempty"`
	Pinned      bool             `json:"pinned,omitempty"`
	Transitions uint64           `json:"transitions,omitempty"`
	Functions   []FunctionStatus `json:"functions,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	dispatch   *dispatch.Table
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server fronting tbl.
func NewServer(socketPath string, tbl *dispatch.Table, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		dispatch:   tbl,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server, removing any stale
// socket file first. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}
	if dir := filepath.Dir(s.socketPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("operator: mkdir %q: %w", dir, err)
		}
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	s.writeResponse(conn, s.Dispatch(req))
}

// Dispatch routes a request to the appropriate handler; exported so
// tests (and an in-process CLI) can exercise command handling without
// a real socket round trip.
func (s *Server) Dispatch(req Request) Response {
	switch req.Cmd {
	case "reset":
		return s.cmdReset(req)
	case "pin":
		return s.cmdPin(req)
	case "unpin":
		return s.cmdUnpin(req)
	case "status":
		return s.cmdStatus(req)
	case "list":
		return s.cmdList()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdReset(req Request) Response {
	prev := s.dispatch.Get(req.FID)
	s.dispatch.Reset(req.FID)
	s.log.Info("operator: function reset to T0",
		zap.Uint64("fid", uint64(req.FID)), zap.String("prev_tier", prev.Tier.String()))
	return Response{OK: true, FID: req.FID, PrevTier: prev.Tier.String()}
}

func (s *Server) cmdPin(req Request) Response {
	tier, err := parseTier(req.Tier)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	current := s.dispatch.Get(req.FID)
	current.Tier = tier
	s.dispatch.Install(current) // no-op if already pinned from a prior round
	s.dispatch.Pin(req.FID)
	s.log.Info("operator: function pinned",
		zap.Uint64("fid", uint64(req.FID)), zap.String("tier", tier.String()))
	return Response{OK: true, FID: req.FID, PinnedTier: tier.String()}
}

func (s *Server) cmdUnpin(req Request) Response {
	s.dispatch.Unpin(req.FID)
	s.log.Info("operator: function unpinned", zap.Uint64("fid", uint64(req.FID)))
	return Response{OK: true, FID: req.FID}
}

func (s *Server) cmdStatus(req Request) Response {
	entry := s.dispatch.Get(req.FID)
	return Response{
		OK:          true,
		FID:         req.FID,
		Tier:        entry.Tier.String(),
		Pinned:      s.dispatch.IsPinned(req.FID),
		Transitions: s.dispatch.Transitions(req.FID),
	}
}

func (s *Server) cmdList() Response {
	entries := s.dispatch.List()
	out := make([]FunctionStatus, 0, len(entries))
	for fid, entry := range entries {
		out = append(out, FunctionStatus{FID: fid, Tier: entry.Tier.String(), Pinned: s.dispatch.IsPinned(fid)})
	}
	return Response{OK: true, Functions: out}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func parseTier(name string) (types.TierLevel, error) {
	switch name {
	case "T0":
		return types.T0, nil
	case "T1":
		return types.T1, nil
	case "T2":
		return types.T2, nil
	case "T3":
		return types.T3, nil
	case "T4":
		return types.T4, nil
	default:
		return types.T0, fmt.Errorf("unknown tier %q (valid: T0 T1 T2 T3 T4)", name)
	}
}
