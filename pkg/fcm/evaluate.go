package fcm

import (
	"sort"
)

// EmptyClusterCategory is reported as the dominant category of a cluster
// that received no members.
const EmptyClusterCategory = "N/A"

// ClusterDetail describes the hard-assigned members of one cluster.
type ClusterDetail struct {
	Label            string         `json:"label"`
	Size             int            `json:"size"`
	DominantCategory string         `json:"dominant_category"`
	Purity           float64        `json:"purity"`
	Distribution     map[string]int `json:"distribution"`
}

// EvaluationReport compares hard cluster assignments against known labels.
// Percentages are rounded to two decimals.
//
// CategoryConcentration is not a classification accuracy: for each true
// category it is the share of that category's samples that landed in the
// single cluster holding most of them. Two categories can both score 100%
// while sharing a cluster.
type EvaluationReport struct {
	OverallPurity         float64            `json:"overall_purity"`
	Silhouette            float64            `json:"silhouette_score"`
	Clusters              []ClusterDetail    `json:"clusters"`
	CategoryConcentration map[string]float64 `json:"category_concentration"`
	Categories            []string           `json:"categories"`
	TestSamples           int                `json:"test_samples"`
	SilhouetteSamples     int                `json:"silhouette_samples"`
	EmptyClusters         int                `json:"empty_clusters"`
}

// Evaluate assigns each row of X to its highest-membership cluster and
// scores the assignment against labels. Empty clusters are reported, never
// treated as errors.
func (e *Engine) Evaluate(X [][]float64, labels []string) (*EvaluationReport, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}
	if len(labels) != len(X) {
		return nil, &DimensionError{What: "evaluation labels", Row: -1, Expected: len(X), Got: len(labels)}
	}
	u, err := e.Memberships(X)
	if err != nil {
		return nil, err
	}

	assigned := make([]int, len(u))
	for i, row := range u {
		assigned[i] = argmax(row)
	}

	report := scoreAssignments(e.cfg.Labels, assigned, labels)

	if len(X) > 0 {
		idx := subsample(len(X), silhouetteSampleCap, e.cfg.RandomSeed)
		Xs := e.scaler.Transform(X)
		pts := make([][]float64, len(idx))
		hard := make([]int, len(idx))
		for j, i := range idx {
			pts[j] = Xs[i]
			hard[j] = assigned[i]
		}
		report.Silhouette = round(Silhouette(pts, hard), 4)
		report.SilhouetteSamples = len(idx)
	}

	e.logger.Info().
		Int("samples", report.TestSamples).
		Float64("overall_purity", report.OverallPurity).
		Float64("silhouette", report.Silhouette).
		Int("empty_clusters", report.EmptyClusters).
		Msg("Evaluation complete")
	return report, nil
}

// scoreAssignments builds the label-based parts of a report from hard
// cluster assignments.
func scoreAssignments(clusterLabels []string, assigned []int, truth []string) *EvaluationReport {
	c := len(clusterLabels)
	dist := make([]map[string]int, c)
	for k := range dist {
		dist[k] = make(map[string]int)
	}
	perCategory := make(map[string][]int)
	for i, k := range assigned {
		dist[k][truth[i]]++
		counts, ok := perCategory[truth[i]]
		if !ok {
			counts = make([]int, c)
			perCategory[truth[i]] = counts
		}
		counts[k]++
	}

	report := &EvaluationReport{
		Clusters:              make([]ClusterDetail, c),
		CategoryConcentration: make(map[string]float64, len(perCategory)),
		Categories:            make([]string, 0, len(perCategory)),
		TestSamples:           len(assigned),
	}

	correct := 0
	for k := 0; k < c; k++ {
		detail := ClusterDetail{
			Label:            clusterLabels[k],
			DominantCategory: EmptyClusterCategory,
			Distribution:     dist[k],
		}
		for _, n := range dist[k] {
			detail.Size += n
		}
		if detail.Size == 0 {
			report.EmptyClusters++
			report.Clusters[k] = detail
			continue
		}
		dominant, n := mostCommon(dist[k])
		detail.DominantCategory = dominant
		detail.Purity = round(float64(n)/float64(detail.Size)*100, 2)
		correct += n
		report.Clusters[k] = detail
	}
	if len(assigned) > 0 {
		report.OverallPurity = round(float64(correct)/float64(len(assigned))*100, 2)
	}

	for category, counts := range perCategory {
		report.Categories = append(report.Categories, category)
		best, total := 0, 0
		for k, n := range counts {
			total += n
			if n > counts[best] {
				best = k
			}
		}
		report.CategoryConcentration[category] = round(float64(counts[best])/float64(total)*100, 2)
	}
	sort.Strings(report.Categories)
	return report
}

// mostCommon returns the most frequent key, breaking ties by the
// lexicographically smallest key.
func mostCommon(counts map[string]int) (string, int) {
	var best string
	bestN := -1
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best, bestN
}

func argmax(row []float64) int {
	best := 0
	for k, v := range row {
		if v > row[best] {
			best = k
		}
	}
	return best
}
