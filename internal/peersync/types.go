// Package peersync implements Cross-Instance Statistics Sync (spec
// §4.P, component P, optional): a gRPC mTLS service that periodically
// shares this instance's Guard Model posteriors and Benefit Predictor
// coefficients with configured peers, merging what it receives back
// using the same trust-weighted-by-sample-count formula the Guard
// Model and Benefit Predictor themselves expose.
//
// Grounded directly on internal/gossip/server.go and
// internal/gossip/federated_baseline.go: the envelope verification
// order (timestamp freshness, peer trust, Ed25519 signature), the TLS
// 1.3 mTLS transport, and the merge formula
//
//	merged = (1-w)*local + w*remote,  w = trust_weight * n_remote/(n_local+n_remote)
//
// are carried over unchanged; only the payload changes, from anomaly
// envelopes / baseline vectors to guard posteriors and predictor
// coefficients.
//
// protoc is unavailable in this environment, so the wire payload uses
// a hand-written grpc/encoding.Codec (codec.go) that marshals these
// plain Go structs as JSON instead of generated protobuf bindings; the
// transport, TLS, and streaming stack are otherwise exactly what a
// protobuf-backed service would use (see DESIGN.md for the Open
// Question resolution). This package never touches dispatch or
// execution — it is inert with respect to the "distributed execution"
// Non-goal, a statistics exchange only.
package peersync

import "time"

// GuardPosteriorShare is one GuardKind's exported Beta posterior.
type GuardPosteriorShare struct {
	Kind  string  `json:"kind"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// PredictorCoefficientShare is one registered Benefit Predictor's
// exported linear model state.
type PredictorCoefficientShare struct {
	Name    string    `json:"name"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Trained int       `json:"trained"`
}

// StatsEnvelope is the signed payload exchanged between peers.
type StatsEnvelope struct {
	NodeID          string                      `json:"node_id"`
	TimestampUnixNs int64                       `json:"timestamp_unix_ns"`
	GuardPosteriors []GuardPosteriorShare       `json:"guard_posteriors"`
	Predictors      []PredictorCoefficientShare `json:"predictors"`
	Signature       []byte                      `json:"signature"`
}

// AckResponse is the receiving peer's reply to ShareStats.
type AckResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// envelopeAge is a small seam so tests can fake "now" without the
// forbidden time.Now() substitution trick; production code always
// calls time.Now().
var envelopeAge = func(tsUnixNs int64) time.Duration {
	return time.Since(time.Unix(0, tsUnixNs))
}
