package engine

import (
	"github.com/MikeSquared-Agency/scribematch/internal/config"
	"github.com/MikeSquared-Agency/scribematch/internal/oracle"
	"github.com/MikeSquared-Agency/scribematch/internal/scoring"
)

// ConfigFrom maps the service configuration onto engine parameters.
func ConfigFrom(c *config.Config) Config {
	w := c.Matching.Weights
	return Config{
		Weights: scoring.WeightSet{
			Distance:     w.Distance,
			Availability: w.Availability,
			Subject:      w.Subject,
			Language:     w.Language,
			Experience:   w.Experience,
			Rating:       w.Rating,
			Preference:   w.Preference,
		},
		MinimumScore:         c.Matching.Thresholds.MinimumScore,
		MaximumDistanceKm:    c.Matching.Thresholds.MaximumDistance,
		MaxMatchesPerRequest: c.Matching.Limits.MaxMatchesPerRequest,
		BackupScribeCount:    c.Matching.Limits.BackupScribeCount,
		OracleConcurrency:    c.Oracle.Concurrency,
		OracleTimeout:        c.OracleTimeout(),
		OracleOptions: oracle.Options{
			Temperature: c.Oracle.Temperature,
			MaxTokens:   c.Oracle.MaxTokens,
		},
		EmergencyMaxDistanceKm: c.Emergency.MaxDistanceKm,
		EmergencyMinimumScore:  c.Emergency.MinimumScore,
		BulkConcurrency:        c.Matching.BulkConcurrency,
	}
}
