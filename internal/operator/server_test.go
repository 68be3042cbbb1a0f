package operator

import (
	"testing"

	"go.uber.org/zap"

	"github.com/octoreflex/aott/internal/dispatch"
	"github.com/octoreflex/aott/internal/types"
)

func newTestServer() *Server {
	return NewServer("", dispatch.New(), zap.NewNop())
}

func TestDispatchPinThenStatusReflectsPin(t *testing.T) {
	s := newTestServer()

	resp := s.Dispatch(Request{Cmd: "pin", FID: 1, Tier: "T2"})
	if !resp.OK || resp.PinnedTier != "T2" {
		t.Fatalf("pin response = %+v", resp)
	}

	status := s.Dispatch(Request{Cmd: "status", FID: 1})
	if !status.OK || status.Tier != "T2" || !status.Pinned {
		t.Fatalf("status after pin = %+v", status)
	}
}

func TestPinBlocksFurtherEscalation(t *testing.T) {
	s := newTestServer()
	s.Dispatch(Request{Cmd: "pin", FID: 1, Tier: "T2"})

	ok := s.dispatch.Install(types.DispatchEntry{FID: 1, Tier: types.T4})
	if ok {
		t.Fatalf("expected Install to be rejected while fid 1 is pinned")
	}
	status := s.Dispatch(Request{Cmd: "status", FID: 1})
	if status.Tier != "T2" {
		t.Fatalf("expected tier to remain T2 under a pin, got %q", status.Tier)
	}
}

func TestUnpinAllowsEscalationAgain(t *testing.T) {
	s := newTestServer()
	s.Dispatch(Request{Cmd: "pin", FID: 1, Tier: "T2"})

	resp := s.Dispatch(Request{Cmd: "unpin", FID: 1})
	if !resp.OK {
		t.Fatalf("unpin response = %+v", resp)
	}

	ok := s.dispatch.Install(types.DispatchEntry{FID: 1, Tier: types.T4})
	if !ok {
		t.Fatalf("expected Install to succeed after unpin")
	}
}

func TestResetRevertsToT0AndClearsPin(t *testing.T) {
	s := newTestServer()
	s.Dispatch(Request{Cmd: "pin", FID: 1, Tier: "T3"})

	resp := s.Dispatch(Request{Cmd: "reset", FID: 1})
	if !resp.OK || resp.PrevTier != "T3" {
		t.Fatalf("reset response = %+v", resp)
	}

	status := s.Dispatch(Request{Cmd: "status", FID: 1})
	if status.Tier != "T0" || status.Pinned {
		t.Fatalf("expected T0 and unpinned after reset, got %+v", status)
	}
}

func TestListReturnsEveryTrackedFunction(t *testing.T) {
	s := newTestServer()
	s.Dispatch(Request{Cmd: "pin", FID: 1, Tier: "T1"})
	s.Dispatch(Request{Cmd: "pin", FID: 2, Tier: "T2"})

	resp := s.Dispatch(Request{Cmd: "list"})
	if !resp.OK || len(resp.Functions) != 2 {
		t.Fatalf("list response = %+v", resp)
	}
}

func TestPinRejectsUnknownTier(t *testing.T) {
	s := newTestServer()
	resp := s.Dispatch(Request{Cmd: "pin", FID: 1, Tier: "T99"})
	if resp.OK {
		t.Fatalf("expected pin with an invalid tier name to fail, got %+v", resp)
	}
}

func TestDispatchRejectsUnknownCommand(t *testing.T) {
	s := newTestServer()
	resp := s.Dispatch(Request{Cmd: "nonsense"})
	if resp.OK {
		t.Fatalf("expected an unknown command to fail, got %+v", resp)
	}
}
