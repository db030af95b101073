// Package scoring derives the per-cell daily impact score from trailing complaint counts,
// apportioned population and business activity.
package scoring

import "math"

// Scores holds the three components written for a cell and date.
type Scores struct {
	Base     float64
	Activity float64
	Final    float64
}

// Score computes the impact for one cell.
//
//	base     = 0 when population <= 0, else (complaints/population) * ln(complaints+1)
//	activity = 1 + businesses*weight
//	final    = base * activity
func Score(complaints, population, businesses int, weight float64) Scores {
	var base float64
	if population > 0 {
		c := float64(complaints)
		base = (c / float64(population)) * math.Log(c+1)
	}
	activity := 1 + float64(businesses)*weight
	return Scores{Base: base, Activity: activity, Final: base * activity}
}
