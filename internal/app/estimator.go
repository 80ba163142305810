package app

import (
	"time"

	ent "CivicAlertManager/internal/entity"
)

const (
	DefaultWorkloadThreshold = 20

	busyFactor       = 0.5
	overloadedFactor = 0.2
)

// Estimator derives expected response times from an authority's SLA,
// workload and availability.
type Estimator struct {
	threshold int
}

func NewEstimator(workloadThreshold int) *Estimator {
	if workloadThreshold <= 0 {
		workloadThreshold = DefaultWorkloadThreshold
	}
	return &Estimator{threshold: workloadThreshold}
}

// Multiplier is 1, plus 0.5 when busy, plus 0.2 when the open item count is
// above the threshold.
func (e *Estimator) Multiplier(a ent.Authority) float64 {
	m := 1.0
	if a.Availability == ent.Busy {
		m += busyFactor
	}
	if a.Workload > e.threshold {
		m += overloadedFactor
	}
	return m
}

// Estimate is the informational expected response time.
func (e *Estimator) Estimate(a ent.Authority) time.Duration {
	return scale(a.TargetResponse, e.Multiplier(a))
}

// WaitBudget scales a rule timeout by the authority's multiplier.
func (e *Estimator) WaitBudget(timeout time.Duration, a ent.Authority) time.Duration {
	return scale(timeout, e.Multiplier(a))
}

func scale(d time.Duration, m float64) time.Duration {
	return time.Duration(float64(d) * m)
}
