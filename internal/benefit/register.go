package benefit

// DefaultFeatureDims is the width of the feature vector the Promotion
// Detector builds for a candidate (spec §3 PromotionEvent.Features):
// instruction count, branch count, loop count, memory ops, arith ops,
// call count, recent call frequency, and type stability.
const DefaultFeatureDims = 8

func init() {
	RegisterPredictor(NewLinearPredictor(DefaultFeatureDims, 0.01))
}
