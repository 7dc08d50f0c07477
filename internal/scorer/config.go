// Package scorer parses professional profiles and picks the candidate most
// likely to hold the requested role at the resolved company.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-cli/internal/config"
)

// MinConfidenceFloor is the lowest confidence a selected contact may have.
// A configured threshold below it is raised to it.
const MinConfidenceFloor = 0.3

// DefaultWeights returns the default component weights. Weights sum to 1.
func DefaultWeights() config.ScoreWeights {
	return config.ScoreWeights{
		TitleMatch: 0.5,
		Company:    0.3,
		Location:   0.1,
		Recency:    0.1,
	}
}

// WeightSum returns the sum of all component weights.
func WeightSum(w config.ScoreWeights) float64 {
	return w.TitleMatch + w.Company + w.Location + w.Recency
}

// ValidateWeights checks that a weight set is usable.
func ValidateWeights(w config.ScoreWeights) error {
	var errs []string

	weights := []struct {
		name  string
		value float64
	}{
		{"title_match", w.TitleMatch},
		{"company", w.Company},
		{"location", w.Location},
		{"recency", w.Recency},
	}
	for _, wt := range weights {
		if wt.value < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", wt.name))
		}
	}

	sum := WeightSum(w)
	if sum <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}
	if math.Abs(sum-1) > 0.01 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.2f", sum))
	}

	// Title match is the primary signal.
	if w.TitleMatch < w.Company || w.TitleMatch < w.Location || w.TitleMatch < w.Recency {
		errs = append(errs, "title_match must be the largest weight")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
