package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/saltfish/freqsweep/internal/domain"
)

// DefaultResultsPath is where a batch result is saved when no path is given.
const DefaultResultsPath = "user_data/hyperopt_backtest_results.json"

// Marshal encodes a batch result as indented JSON. Units are keyed by ID in
// sorted order.
func Marshal(result *domain.BatchResult) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch result: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a batch result. When the unit order is missing it falls back
// to sorted unit IDs.
func Unmarshal(data []byte) (*domain.BatchResult, error) {
	var result domain.BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch result: %w", err)
	}
	if result.Outcomes == nil {
		result.Outcomes = make(map[string]*domain.UnitOutcome)
	}
	if len(result.Order) == 0 {
		for id := range result.Outcomes {
			result.Order = append(result.Order, id)
		}
		sort.Strings(result.Order)
	}
	return &result, nil
}

// Save writes the batch result to path, creating parent directories.
func Save(path string, result *domain.BatchResult) error {
	if path == "" {
		path = DefaultResultsPath
	}
	data, err := Marshal(result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// Load reads a batch result saved by Save.
func Load(path string) (*domain.BatchResult, error) {
	if path == "" {
		path = DefaultResultsPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewNotFoundError("results file", path)
		}
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	return Unmarshal(data)
}
