package benefit

import (
	"math"
	"testing"
)

func TestLinearPredictorLearnsPositiveTrend(t *testing.T) {
	p := NewLinearPredictor(2, 0.1)
	for i := 0; i < 500; i++ {
		p.Train(TrainingSample{Features: []float64{1, 0}, ImprovementRatio: 0.8})
		p.Train(TrainingSample{Features: []float64{0, 1}, ImprovementRatio: -0.2})
	}

	hot := p.Predict(PredictRequest{Features: []float64{1, 0}})
	cold := p.Predict(PredictRequest{Features: []float64{0, 1}})

	if hot.EstimatedBenefit <= cold.EstimatedBenefit {
		t.Fatalf("model did not learn distinguishing trend: hot=%f cold=%f",
			hot.EstimatedBenefit, cold.EstimatedBenefit)
	}
	if math.Abs(hot.EstimatedBenefit-0.8) > 0.15 {
		t.Fatalf("EstimatedBenefit = %f, want close to 0.8", hot.EstimatedBenefit)
	}
}

func TestLinearPredictorConfidenceGrowsWithTraining(t *testing.T) {
	p := NewLinearPredictor(1, 0.1)
	before := p.Predict(PredictRequest{Features: []float64{1}}).Confidence
	for i := 0; i < 200; i++ {
		p.Train(TrainingSample{Features: []float64{1}, ImprovementRatio: 0.5})
	}
	after := p.Predict(PredictRequest{Features: []float64{1}}).Confidence
	if after <= before {
		t.Fatalf("confidence did not grow with training: before=%f after=%f", before, after)
	}
}

func TestLinearPredictorOutlierScoreRisesForNovelInput(t *testing.T) {
	p := NewLinearPredictor(2, 0.1)
	for i := 0; i < 100; i++ {
		p.Train(TrainingSample{Features: []float64{1, 1}, ImprovementRatio: 0.5})
	}
	typical := p.Predict(PredictRequest{Features: []float64{1, 1}}).OutlierScore
	novel := p.Predict(PredictRequest{Features: []float64{500, -500}}).OutlierScore
	if novel <= typical {
		t.Fatalf("outlier score did not rise for a novel input: typical=%f novel=%f", typical, novel)
	}
}

func TestLinearPredictorDoesNotTrainBelowFullBatch(t *testing.T) {
	p := NewLinearPredictor(1, 0.1)
	for i := 0; i < trainBatchSize-1; i++ {
		p.Train(TrainingSample{Features: []float64{1}, ImprovementRatio: 0.5})
	}
	if _, ok := p.AccuracyEMA(); ok {
		t.Fatalf("expected no accuracy reading before a full batch of %d samples", trainBatchSize)
	}
	if got := p.Predict(PredictRequest{Features: []float64{1}}).EstimatedBenefit; got != 0 {
		t.Fatalf("expected untrained EstimatedBenefit before a full batch, got %f", got)
	}

	p.Train(TrainingSample{Features: []float64{1}, ImprovementRatio: 0.5}) // completes the batch
	if _, ok := p.AccuracyEMA(); !ok {
		t.Fatalf("expected an accuracy reading once a full batch completed")
	}
}

func TestLinearPredictorRejectsBatchBelowAccuracyThreshold(t *testing.T) {
	p := NewLinearPredictor(1, 0.1)

	// 16 training-split samples with a single shared feature and a
	// target that flips sign every call: a one-dimensional model can
	// only track the most recent target, so the trial model ends up
	// trained toward the sign of the 16th (negative) sample.
	for i := 0; i < trainBatchSize-4; i++ {
		target := 1.0
		if i%2 == 1 {
			target = -1.0
		}
		p.Train(TrainingSample{Features: []float64{1}, ImprovementRatio: target})
	}
	// 4 validation-split samples that all disagree with the sign the
	// trial model just converged toward, forcing validation accuracy to 0.
	for i := 0; i < 4; i++ {
		p.Train(TrainingSample{Features: []float64{1}, ImprovementRatio: 1.0})
	}

	if got := p.Predict(PredictRequest{Features: []float64{1}}).EstimatedBenefit; got != 0 {
		t.Fatalf("expected the previous (untrained, zero) parameters to be retained after a rejected batch, got %f", got)
	}
	accuracy, ok := p.AccuracyEMA()
	if !ok {
		t.Fatalf("expected an accuracy reading after a full batch")
	}
	if accuracy != 0 {
		t.Fatalf("expected validation accuracy 0 for a batch engineered to fail, got %f", accuracy)
	}
}

func TestLinearPredictorAccuracyEMATracksAcceptedBatches(t *testing.T) {
	p := NewLinearPredictor(1, 0.1)
	for i := 0; i < trainBatchSize; i++ {
		p.Train(TrainingSample{Features: []float64{1}, ImprovementRatio: 0.5})
	}
	first, ok := p.AccuracyEMA()
	if !ok || first != 1 {
		t.Fatalf("expected a perfect-accuracy first batch, got accuracy=%f ok=%v", first, ok)
	}

	for i := 0; i < trainBatchSize; i++ {
		p.Train(TrainingSample{Features: []float64{1}, ImprovementRatio: 0.5})
	}
	second, ok := p.AccuracyEMA()
	if !ok || second != 1 {
		t.Fatalf("expected the EMA to stay at 1.0 across repeated perfect batches, got accuracy=%f ok=%v", second, ok)
	}
}

func TestRegistryHasDefaultLinearPredictor(t *testing.T) {
	p, ok := GetPredictor("linear")
	if !ok {
		t.Fatalf("expected the default \"linear\" predictor to be registered")
	}
	if p.Name() != "linear" {
		t.Fatalf("Name() = %q, want \"linear\"", p.Name())
	}
	names := ListPredictors()
	found := false
	for _, n := range names {
		if n == "linear" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListPredictors() = %v, want it to include \"linear\"", names)
	}
}
