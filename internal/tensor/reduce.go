package tensor

import "gonum.org/v1/gonum/floats"

// ReduceDistribution collapses a batch of per-action value distributions of
// shape [B, actionCount, atoms] to scalar Q values of shape [B, actionCount]
// by a dot product against a fixed support vector. The distribution
// reduction happens inside the engine, not the model.
//
// dist is row-major: dist[b*actionCount*atoms + a*atoms + k]. support has
// length atoms. The result is row-major [B, actionCount].
func ReduceDistribution(dist []float64, batch, actionCount, atoms int, support []float64) []float64 {
	out := make([]float64, batch*actionCount)
	for b := 0; b < batch; b++ {
		for a := 0; a < actionCount; a++ {
			start := b*actionCount*atoms + a*atoms
			out[b*actionCount+a] = floats.Dot(dist[start:start+atoms], support)
		}
	}
	return out
}
