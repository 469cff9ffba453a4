package fcm

import (
	"fmt"
)

// SecondaryThreshold is the membership a second category must exceed to be
// reported as a secondary category. It is fixed and not configurable.
const SecondaryThreshold = 0.20

// distanceFloor clamps sample-to-center distances so the membership update
// never divides by zero.
const distanceFloor = 1e-10

// silhouetteSampleCap bounds the number of points used for the silhouette
// score during evaluation.
const silhouetteSampleCap = 1000

// ThreatLabels is the default cluster taxonomy used for live security events.
var ThreatLabels = []string{
	"Malware/Ransomware",
	"Data Exfiltration",
	"DDoS/DoS Attack",
	"Reconnaissance",
	"Insider Threat",
}

// NSLKDDLabels is the cluster taxonomy used when training against NSL-KDD.
var NSLKDDLabels = []string{"normal", "DoS", "Probe", "R2L", "U2R"}

// Config holds the engine parameters. It is copied into the engine by New
// and cannot change afterwards.
type Config struct {
	Clusters             int      `mapstructure:"clusters" json:"clusters"`
	Fuzziness            float64  `mapstructure:"fuzziness" json:"fuzziness"`
	MaxIterations        int      `mapstructure:"max_iterations" json:"max_iterations"`
	ConvergenceThreshold float64  `mapstructure:"convergence_threshold" json:"convergence_threshold"`
	RandomSeed           int64    `mapstructure:"random_seed" json:"random_seed"`
	Labels               []string `mapstructure:"labels" json:"labels"`
	// Schema is the fingerprint of the feature layout the engine is fed.
	// Models saved under a different fingerprint are refused by Restore.
	Schema string `mapstructure:"-" json:"schema"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Clusters:             5,
		Fuzziness:            1.6,
		MaxIterations:        100,
		ConvergenceThreshold: 1e-3,
		RandomSeed:           42,
	}
}

// normalize fills in labels and validates the configuration.
func (c Config) normalize() (Config, error) {
	if c.Clusters <= 0 {
		return c, fmt.Errorf("%w: clusters must be positive, got %d", ErrInvalidConfig, c.Clusters)
	}
	if c.Fuzziness <= 1 {
		return c, fmt.Errorf("%w: fuzziness must be greater than 1, got %g", ErrInvalidConfig, c.Fuzziness)
	}
	if c.MaxIterations <= 0 {
		return c, fmt.Errorf("%w: max_iterations must be positive, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.ConvergenceThreshold <= 0 {
		return c, fmt.Errorf("%w: convergence_threshold must be positive, got %g", ErrInvalidConfig, c.ConvergenceThreshold)
	}

	if len(c.Labels) == 0 {
		c.Labels = defaultLabels(c.Clusters)
	} else {
		labels := make([]string, len(c.Labels))
		copy(labels, c.Labels)
		c.Labels = labels
	}
	if len(c.Labels) != c.Clusters {
		return c, fmt.Errorf("%w: %d labels for %d clusters", ErrInvalidConfig, len(c.Labels), c.Clusters)
	}
	seen := make(map[string]bool, len(c.Labels))
	for _, l := range c.Labels {
		if l == "" {
			return c, fmt.Errorf("%w: empty cluster label", ErrInvalidConfig)
		}
		if seen[l] {
			return c, fmt.Errorf("%w: duplicate cluster label %q", ErrInvalidConfig, l)
		}
		seen[l] = true
	}
	return c, nil
}

func defaultLabels(n int) []string {
	if n == len(ThreatLabels) {
		out := make([]string, n)
		copy(out, ThreatLabels)
		return out
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Cluster %d", i+1)
	}
	return out
}
