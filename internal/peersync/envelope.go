package peersync

import (
	"crypto/ed25519"
	"encoding/binary"
	"math"
)

// canonicalBytes produces the deterministic byte sequence that is
// signed and verified for a StatsEnvelope, mirroring
// internal/gossip/federated_baseline.go's canonicalBaselineBytes: a
// length-prefixed concatenation of every field but the signature
// itself, in field-declaration order.
func canonicalBytes(env *StatsEnvelope) []byte {
	var buf []byte

	writeStr := func(s string) {
		n := make([]byte, 4)
		binary.LittleEndian.PutUint32(n, uint32(len(s)))
		buf = append(buf, n...)
		buf = append(buf, s...)
	}
	writeU64 := func(v uint64) {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		buf = append(buf, b...)
	}
	writeFloat := func(f float64) { writeU64(math.Float64bits(f)) }

	writeStr(env.NodeID)
	writeU64(uint64(env.TimestampUnixNs))

	writeU64(uint64(len(env.GuardPosteriors)))
	for _, g := range env.GuardPosteriors {
		writeStr(g.Kind)
		writeFloat(g.Alpha)
		writeFloat(g.Beta)
	}

	writeU64(uint64(len(env.Predictors)))
	for _, p := range env.Predictors {
		writeStr(p.Name)
		writeU64(uint64(len(p.Weights)))
		for _, w := range p.Weights {
			writeFloat(w)
		}
		writeFloat(p.Bias)
		writeU64(uint64(p.Trained))
	}

	return buf
}

// Sign signs env in place with priv, overwriting any existing Signature.
func Sign(env *StatsEnvelope, priv ed25519.PrivateKey) {
	env.Signature = ed25519.Sign(priv, canonicalBytes(env))
}

// Verify reports whether env's Signature is a valid Ed25519 signature
// over its canonical bytes under pub.
func Verify(env *StatsEnvelope, pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, canonicalBytes(env), env.Signature)
}
