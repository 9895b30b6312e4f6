package experiment

import (
	"github.com/rafaeljc/norns/internal/store"
)

// leastUsed inspects the historical distribution of an experiment and returns the
// value to force when the skew between the most and least fired candidate exceeds
// threshold. ok=false means no correction applies and the caller draws at random.
//
// Only values that are still candidates are counted. Ties on the minimum go to the
// value that fired first; counts arrive ordered by first appearance.
func leastUsed(counts []store.ValueCount, c candidates, threshold int) (value string, ok bool) {
	var (
		minValue         string
		minCount, maxCnt int64
		distinct         int
	)

	for _, vc := range counts {
		if !c.set[vc.Value] {
			continue
		}
		if distinct == 0 || vc.Count < minCount {
			minValue, minCount = vc.Value, vc.Count
		}
		if distinct == 0 || vc.Count > maxCnt {
			maxCnt = vc.Count
		}
		distinct++
	}

	if distinct < 2 || minCount == maxCnt {
		return "", false
	}
	if maxCnt-minCount > int64(threshold) {
		return minValue, true
	}
	return "", false
}
