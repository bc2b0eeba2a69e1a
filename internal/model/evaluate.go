package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics are holdout regression errors. Errors are reported in seconds and minutes.
type Metrics struct {
	MAESeconds  float64 `json:"mae_seconds"`
	MAEMinutes  float64 `json:"mae_minutes"`
	RMSESeconds float64 `json:"rmse_seconds"`
	RMSEMinutes float64 `json:"rmse_minutes"`
	R2          float64 `json:"r2_score"`
}

// Evaluate compares predictions with actual trip durations in seconds.
func Evaluate(actual, predicted []float64) Metrics {
	if len(actual) == 0 {
		return Metrics{}
	}
	absErr := make([]float64, len(actual))
	sqErr := make([]float64, len(actual))
	for i := range actual {
		d := actual[i] - predicted[i]
		absErr[i] = math.Abs(d)
		sqErr[i] = d * d
	}
	mae := stat.Mean(absErr, nil)
	rmse := math.Sqrt(stat.Mean(sqErr, nil))
	return Metrics{
		MAESeconds:  mae,
		MAEMinutes:  mae / 60,
		RMSESeconds: rmse,
		RMSEMinutes: rmse / 60,
		R2:          rSquared(actual, predicted, sqErr),
	}
}

// rSquared is 1 - SSres/SStot. A constant target scores 1 when predicted
// exactly and 0 otherwise.
func rSquared(actual, predicted, sqErr []float64) float64 {
	r2 := stat.RSquaredFrom(predicted, actual, nil)
	if !math.IsNaN(r2) && !math.IsInf(r2, 0) {
		return r2
	}
	for _, e := range sqErr {
		if e != 0 {
			return 0
		}
	}
	return 1
}

// Importance is one feature's share of the total impurity decrease.
type Importance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// RankImportances pairs features with their importances, descending. Ties
// keep feature order.
func RankImportances(features []string, values []float64) []Importance {
	out := make([]Importance, len(features))
	for i, f := range features {
		out[i] = Importance{Feature: f, Importance: values[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}
