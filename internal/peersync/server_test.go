package peersync

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/aott/internal/guardmodel"
)

func newTestServer(t *testing.T, trustedPeers map[string]ed25519.PublicKey) *Server {
	t.Helper()
	return NewServer("local-node", trustedPeers, 30*time.Second, 1.0, guardmodel.New(), zap.NewNop())
}

func withFixedAge(t *testing.T, age time.Duration) {
	t.Helper()
	orig := envelopeAge
	envelopeAge = func(int64) time.Duration { return age }
	t.Cleanup(func() { envelopeAge = orig })
}

func TestShareStatsAcceptsFreshTrustedSignedEnvelope(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	srv := newTestServer(t, map[string]ed25519.PublicKey{"peer-a": pub})
	withFixedAge(t, time.Second)

	env := &StatsEnvelope{NodeID: "peer-a", GuardPosteriors: []GuardPosteriorShare{{Kind: "TypeCheck", Alpha: 3, Beta: 1}}}
	Sign(env, priv)

	resp, err := srv.ShareStats(context.Background(), env)
	if err != nil {
		t.Fatalf("ShareStats: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected acceptance, got rejection reason %q", resp.RejectionReason)
	}
}

func TestShareStatsRejectsStaleTimestamp(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	srv := newTestServer(t, map[string]ed25519.PublicKey{"peer-a": pub})
	withFixedAge(t, time.Hour)

	env := &StatsEnvelope{NodeID: "peer-a"}
	Sign(env, priv)

	resp, err := srv.ShareStats(context.Background(), env)
	if err != nil {
		t.Fatalf("ShareStats: %v", err)
	}
	if resp.Accepted || resp.RejectionReason != "timestamp_stale" {
		t.Fatalf("expected timestamp_stale rejection, got %+v", resp)
	}
}

func TestShareStatsRejectsUntrustedPeer(t *testing.T) {
	srv := newTestServer(t, map[string]ed25519.PublicKey{})
	withFixedAge(t, time.Second)

	_, priv, _ := ed25519.GenerateKey(nil)
	env := &StatsEnvelope{NodeID: "peer-a"}
	Sign(env, priv)

	resp, err := srv.ShareStats(context.Background(), env)
	if err != nil {
		t.Fatalf("ShareStats: %v", err)
	}
	if resp.Accepted || resp.RejectionReason != "peer_unknown" {
		t.Fatalf("expected peer_unknown rejection, got %+v", resp)
	}
}

func TestShareStatsRejectsInvalidSignature(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	_, wrongPriv, _ := ed25519.GenerateKey(nil)
	srv := newTestServer(t, map[string]ed25519.PublicKey{"peer-a": pub})
	withFixedAge(t, time.Second)

	env := &StatsEnvelope{NodeID: "peer-a"}
	Sign(env, wrongPriv)

	resp, err := srv.ShareStats(context.Background(), env)
	if err != nil {
		t.Fatalf("ShareStats: %v", err)
	}
	if resp.Accepted || resp.RejectionReason != "signature_invalid" {
		t.Fatalf("expected signature_invalid rejection, got %+v", resp)
	}
}
