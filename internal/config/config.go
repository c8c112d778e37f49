package config

import (
	"math"
	"os"
	"runtime"
	"strconv"
	"time"

	"gommrm/internal/errors"

	"github.com/joho/godotenv"
)

// Config represents the complete library configuration
type Config struct {
	Numeric  NumericConfig
	Database DatabaseConfig
	Paths    PathConfig
}

// NumericConfig holds the tunables of the differentiation and
// adjustment engines. Coefficient-covariance surfaces can be badly
// scaled, so the step sizes are configuration, not constants.
type NumericConfig struct {
	// StepScale scales the central-difference step for first
	// derivatives; the per-component step is StepScale*max(1, |theta_k|).
	StepScale float64

	// HessianStepScale scales the step for second derivatives.
	HessianStepScale float64

	// EigenvalueTol is the relative threshold below which an
	// eigenvalue is treated as zero during symmetric inversion.
	EigenvalueTol float64

	// LeverageTol rejects a jackknife block when the smallest pivot of
	// I - H_ii falls at or below it.
	LeverageTol float64

	// Workers bounds the Jacobian fan-out. Defaults to GOMAXPROCS.
	Workers int

	// EvalBudget bounds one objective or covariance evaluation.
	EvalBudget time.Duration
}

// DatabaseConfig holds result-ledger connection settings
type DatabaseConfig struct {
	URL string
}

// PathConfig holds file system paths
type PathConfig struct {
	DataFile string
}

// DefaultNumeric returns the numeric tunables with their defaults
// applied: cube-root and fourth-root of machine epsilon for first and
// second differences, the classic choices for central schemes.
func DefaultNumeric() NumericConfig {
	eps := math.Nextafter(1, 2) - 1
	return NumericConfig{
		StepScale:        math.Cbrt(eps),
		HessianStepScale: math.Pow(eps, 0.25),
		EigenvalueTol:    eps,
		LeverageTol:      1e-10,
		Workers:          runtime.GOMAXPROCS(0),
		EvalBudget:       time.Minute,
	}
}

// Load reads configuration from the environment, after loading a .env
// file when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	numeric := DefaultNumeric()
	numeric.StepScale = getEnvFloatOrDefault("FD_STEP_SCALE", numeric.StepScale)
	numeric.HessianStepScale = getEnvFloatOrDefault("FD_HESSIAN_STEP_SCALE", numeric.HessianStepScale)
	numeric.EigenvalueTol = getEnvFloatOrDefault("EIGENVALUE_TOL", numeric.EigenvalueTol)
	numeric.LeverageTol = getEnvFloatOrDefault("LEVERAGE_TOL", numeric.LeverageTol)
	numeric.Workers = getEnvIntOrDefault("JACOBIAN_WORKERS", numeric.Workers)
	numeric.EvalBudget = getEnvDurationOrDefault("EVAL_BUDGET", numeric.EvalBudget)

	if numeric.StepScale <= 0 {
		return nil, errors.ConfigInvalid("FD_STEP_SCALE must be positive")
	}
	if numeric.Workers < 1 {
		return nil, errors.ConfigInvalid("JACOBIAN_WORKERS must be at least 1")
	}

	return &Config{
		Numeric: numeric,
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Paths: PathConfig{
			DataFile: getEnvOrDefault("DATA_FILE", ""),
		},
	}, nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
