package fcm

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes columns to zero mean and unit variance using the
// statistics of the data it was fitted on.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column population mean and standard deviation.
// Constant columns get a standard deviation of 1 so they scale to zero.
func FitScaler(X [][]float64) *Scaler {
	if len(X) == 0 {
		return &Scaler{}
	}
	width := len(X[0])
	s := &Scaler{
		Mean: make([]float64, width),
		Std:  make([]float64, width),
	}
	col := make([]float64, len(X))
	for d := 0; d < width; d++ {
		for i, row := range X {
			col[i] = row[d]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[d] = mean
		s.Std[d] = std
	}
	return s
}

// Width is the number of columns the scaler was fitted on.
func (s *Scaler) Width() int {
	return len(s.Mean)
}

// Transform returns a scaled copy of X. X is left untouched.
func (s *Scaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled := make([]float64, len(row))
		for d, v := range row {
			scaled[d] = (v - s.Mean[d]) / s.Std[d]
		}
		out[i] = scaled
	}
	return out
}

func (s *Scaler) clone() *Scaler {
	c := &Scaler{
		Mean: make([]float64, len(s.Mean)),
		Std:  make([]float64, len(s.Std)),
	}
	copy(c.Mean, s.Mean)
	copy(c.Std, s.Std)
	return c
}
