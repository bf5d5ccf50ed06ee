// Package score computes the bounded engagement heuristic for a session.
//
// The score sums four independently capped contributions so that no single
// signal can saturate it:
//
//	time     min(secondsOnSite/3, 40)
//	breadth  min(pagesViewed*5, 20)
//	depth    maxScrollDepth/100*20
//	intent   min(intentEvents*5, 20)
package score

import (
	"math"

	"github.com/gyaneshwarpardhi/engage/internal/session"
)

const (
	MaxTime    = 40.0
	MaxBreadth = 20.0
	MaxDepth   = 20.0
	MaxIntent  = 20.0
)

// Parts is the per-dimension breakdown of a score.
type Parts struct {
	Time    float64 `json:"time"`
	Breadth float64 `json:"breadth"`
	Depth   float64 `json:"depth"`
	Intent  float64 `json:"intent"`
	Total   int     `json:"total"`
}

// Breakdown returns each capped contribution and the rounded total.
func Breakdown(s session.Session) Parts {
	depth := float64(s.MaxScrollDepth)
	depth = math.Max(0, math.Min(depth, 100))

	p := Parts{
		Time:    math.Min(float64(s.SecondsOnSite)/3, MaxTime),
		Breadth: math.Min(float64(len(s.PagesViewed))*5, MaxBreadth),
		Depth:   depth / 100 * MaxDepth,
		Intent:  math.Min(float64(s.IntentEvents())*5, MaxIntent),
	}
	if p.Time < 0 {
		p.Time = 0
	}
	p.Total = int(math.Round(p.Time + p.Breadth + p.Depth + p.Intent))
	return p
}

// Compute returns the engagement score in [0,100].
func Compute(s session.Session) int {
	return Breakdown(s).Total
}
