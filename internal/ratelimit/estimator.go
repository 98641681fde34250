package ratelimit

import (
	"math"
	"sort"
	"time"
)

// recomputeLocked re-derives the estimate from the outcome window. Caller
// holds st.mu.
//
// With fewer than 3 attempts in the window nothing changes. A window with
// no successes pushes the base up (max failed wait x 1.5); otherwise the
// base moves toward the 75th percentile of successful waits. The move is
// blended with an EMA so single outliers do not whipsaw the estimate.
func (t *Tracker) recomputeLocked(engine string, st *engineState) {
	if st.ringLen < minAttemptsForEstimate {
		return
	}

	var successWaits, failWaits []float64
	for i := 0; i < st.ringLen; i++ {
		o := st.ring[i]
		if o.success {
			successWaits = append(successWaits, o.wait)
		} else {
			failWaits = append(failWaits, o.wait)
		}
	}

	var newBase float64
	if len(successWaits) == 0 {
		newBase = math.Min(maxOf(failWaits)*1.5, maxWaitCap)
	} else {
		newBase = percentile(successWaits, 0.75)
	}

	alpha := t.profile.LearningRate

	if st.estimate == nil {
		st.estimate = &Estimate{Engine: engine, BaseWait: newBase}
	} else {
		st.estimate.BaseWait = (1-alpha)*st.estimate.BaseWait + alpha*newBase
	}

	est := st.estimate
	if est.BaseWait > maxWaitCap {
		est.BaseWait = maxWaitCap
	}
	est.MinWait = math.Max(0.5, 0.5*est.BaseWait)
	est.MaxWait = math.Min(maxWaitCap, 3*est.BaseWait)
	est.Confidence = math.Min(1, float64(st.attempts)/confidenceAttempts)
	est.Attempts = st.attempts
	if st.attempts > 0 {
		est.SuccessRate = float64(st.successes) / float64(st.attempts)
	}
	est.LastUpdated = time.Now()
}

// percentile returns the p-th percentile (0..1) of values using
// nearest-rank on a sorted copy.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func maxOf(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}
