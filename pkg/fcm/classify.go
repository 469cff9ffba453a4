package fcm

import "math"

// Classification is the fuzzy assignment of one event.
type Classification struct {
	// Memberships maps each cluster label to its membership percentage,
	// rounded to one decimal.
	Memberships         map[string]float64 `json:"memberships"`
	Cluster             int                `json:"cluster"`
	PrimaryCategory     string             `json:"primary_category"`
	PrimaryConfidence   float64            `json:"primary_confidence"`
	SecondaryCategory   string             `json:"secondary_category,omitempty"`
	SecondaryConfidence float64            `json:"secondary_confidence,omitempty"`
}

// HasSecondary reports whether a secondary category was assigned.
func (c Classification) HasSecondary() bool {
	return c.SecondaryCategory != ""
}

// classify turns one membership row into a Classification. Ties go to the
// lower cluster index.
func classify(labels []string, row []float64) Classification {
	first, second := -1, -1
	for k, v := range row {
		switch {
		case first < 0 || v > row[first]:
			second = first
			first = k
		case second < 0 || v > row[second]:
			second = k
		}
	}

	c := Classification{
		Memberships:       make(map[string]float64, len(row)),
		Cluster:           first,
		PrimaryCategory:   labels[first],
		PrimaryConfidence: round(row[first]*100, 1),
	}
	for k, v := range row {
		c.Memberships[labels[k]] = round(v*100, 1)
	}
	if second >= 0 && row[second] > SecondaryThreshold {
		c.SecondaryCategory = labels[second]
		c.SecondaryConfidence = round(row[second]*100, 1)
	}
	return c
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
