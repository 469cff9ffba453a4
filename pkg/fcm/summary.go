package fcm

import "time"

// NoDominantThreat is reported when a summary covers no events.
const NoDominantThreat = "None"

// CategoryCount is one row of a summary distribution.
type CategoryCount struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Summary aggregates a batch of classifications by primary category.
type Summary struct {
	TotalEvents    int             `json:"total_events"`
	Distribution   []CategoryCount `json:"distribution"`
	AvgConfidence  float64         `json:"avg_confidence"`
	DominantThreat string          `json:"dominant_threat"`
	AnalyzedAt     time.Time       `json:"last_analysis"`
}

// Summarize counts results per label, in label order. Results whose primary
// category is not one of labels are counted in the total only. The dominant
// threat is the first label with the highest count.
func Summarize(results []Classification, labels []string) Summary {
	s := Summary{
		TotalEvents:    len(results),
		Distribution:   make([]CategoryCount, len(labels)),
		DominantThreat: NoDominantThreat,
		AnalyzedAt:     time.Now().UTC(),
	}

	index := make(map[string]int, len(labels))
	for k, l := range labels {
		index[l] = k
		s.Distribution[k].Category = l
	}

	var confidence float64
	for _, r := range results {
		confidence += r.PrimaryConfidence
		if k, ok := index[r.PrimaryCategory]; ok {
			s.Distribution[k].Count++
		}
	}
	if len(results) == 0 {
		return s
	}

	s.AvgConfidence = round(confidence/float64(len(results)), 2)
	best := -1
	for k := range s.Distribution {
		d := &s.Distribution[k]
		d.Percentage = round(float64(d.Count)/float64(len(results))*100, 1)
		if d.Count > 0 && (best < 0 || d.Count > s.Distribution[best].Count) {
			best = k
		}
	}
	if best >= 0 {
		s.DominantThreat = s.Distribution[best].Category
	}
	return s
}
