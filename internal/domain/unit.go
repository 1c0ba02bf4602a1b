package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExperimentUnit identifies one pipeline run: a strategy and an optional timeframe.
type ExperimentUnit struct {
	Strategy  string `json:"strategy"`
	Timeframe string `json:"timeframe,omitempty"`
}

// ID returns the identifier used to key the unit in a batch.
func (u ExperimentUnit) ID() string {
	if u.Timeframe == "" {
		return u.Strategy
	}
	return u.Strategy + "_" + u.Timeframe
}

// String implements fmt.Stringer.
func (u ExperimentUnit) String() string {
	return u.ID()
}

// BuildUnits returns the strategy x timeframe cross product in configuration order.
// Blank and repeated entries are skipped so every unit identity is unique.
func BuildUnits(strategies, timeframes []string) []ExperimentUnit {
	tfs := compact(timeframes)
	if len(tfs) == 0 {
		tfs = []string{""}
	}

	var units []ExperimentUnit
	for _, s := range compact(strategies) {
		for _, tf := range tfs {
			units = append(units, ExperimentUnit{Strategy: s, Timeframe: tf})
		}
	}
	return units
}

// CheckUnitIDs returns an ErrInvalidInput error when two different units share
// an ID, such as strategy "A_4h" without a timeframe and strategy "A" on 4h.
// Repeats of the same unit are allowed.
func CheckUnitIDs(units []ExperimentUnit) error {
	seen := make(map[string]ExperimentUnit, len(units))
	for _, u := range units {
		prev, ok := seen[u.ID()]
		if ok && prev != u {
			return fmt.Errorf("%w: units %+v and %+v share id %q", ErrInvalidInput, prev, u, u.ID())
		}
		seen[u.ID()] = u
	}
	return nil
}

func compact(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// RunParams are the shared parameters passed to every unit of a batch.
type RunParams struct {
	ConfigPath    string   `json:"config_path"`
	UserDir       string   `json:"user_dir"`
	Exchange      string   `json:"exchange"`
	Pairs         []string `json:"pairs"`
	Timeframes    []string `json:"timeframes"`
	Epochs        int      `json:"epochs"`
	Loss          string   `json:"loss"`
	Spaces        []string `json:"spaces"`
	RandomState   int      `json:"random_state"`
	StakeAmount   float64  `json:"stake_amount"`
	DataRange     string   `json:"data_range"`
	HyperoptRange string   `json:"hyperopt_range"`
	BacktestRange string   `json:"backtest_range"`

	// StageTimeout bounds every stage. Zero disables the limit.
	StageTimeout time.Duration `json:"stage_timeout"`
}
