package tracker

import "math"

// maxEstimate keeps interpolated progress below 100 until the server
// confirms a terminal result.
const maxEstimate = 99.0

// Estimator advances displayed progress between polls.
type Estimator struct {
	Step float64
}

func quota(total int) float64 {
	if total <= 0 {
		return 100
	}
	return 100 / float64(total)
}

// Ceiling is the highest value a tick may reach given completed of total
// files confirmed.
func Ceiling(completed, total int) float64 {
	return math.Min(float64(completed+1)*quota(total), maxEstimate)
}

// Tick returns the next estimate for r. It never lowers r.Progress.
func (e Estimator) Tick(r Request) float64 {
	if r.Status != StatusProcessing {
		return r.Progress
	}
	ceiling := Ceiling(r.Completed(), r.Total())
	if r.Progress >= ceiling {
		return r.Progress
	}
	return math.Min(r.Progress+e.Step, ceiling)
}

// Confirm applies a server-reported completion count. The estimate jumps to
// the exact share of completed files when that is ahead of it.
func Confirm(progress float64, completed, total int) float64 {
	if total <= 0 {
		return progress
	}
	exact := math.Min(float64(completed)/float64(total)*100, maxEstimate)
	return math.Max(progress, exact)
}
