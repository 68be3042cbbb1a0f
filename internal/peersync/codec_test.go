package peersync

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestJSONCodecRoundTrips(t *testing.T) {
	in := &StatsEnvelope{
		NodeID:          "node-a",
		TimestampUnixNs: 123,
		GuardPosteriors: []GuardPosteriorShare{{Kind: "TypeCheck", Alpha: 3, Beta: 1}},
		Predictors:      []PredictorCoefficientShare{{Name: "linear", Weights: []float64{0.1, 0.2}, Bias: 0.05, Trained: 10}},
		Signature:       []byte{1, 2, 3},
	}

	c := jsonCodec{}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	out := new(StatsEnvelope)
	if err := c.Unmarshal(data, out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.NodeID != in.NodeID || out.TimestampUnixNs != in.TimestampUnixNs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if len(out.GuardPosteriors) != 1 || out.GuardPosteriors[0].Kind != "TypeCheck" {
		t.Fatalf("GuardPosteriors not round-tripped: %+v", out.GuardPosteriors)
	}
	if len(out.Predictors) != 1 || out.Predictors[0].Name != "linear" {
		t.Fatalf("Predictors not round-tripped: %+v", out.Predictors)
	}
}

func TestJSONCodecIsRegisteredUnderItsName(t *testing.T) {
	if got := (jsonCodec{}).Name(); got != "json" {
		t.Fatalf("Name() = %q, want %q", got, "json")
	}
	if encoding.GetCodec("json") == nil {
		t.Fatalf("expected the json codec to self-register via init()")
	}
}
