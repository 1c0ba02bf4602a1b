package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUnits(t *testing.T) {
	tests := []struct {
		name       string
		strategies []string
		timeframes []string
		want       []string
	}{
		{
			name:       "cross product in order",
			strategies: []string{"GodStra", "MultiMa"},
			timeframes: []string{"1h", "4h"},
			want:       []string{"GodStra_1h", "GodStra_4h", "MultiMa_1h", "MultiMa_4h"},
		},
		{
			name:       "no timeframes",
			strategies: []string{"GodStra"},
			want:       []string{"GodStra"},
		},
		{
			name:       "blanks and repeats skipped",
			strategies: []string{"GodStra", " ", "GodStra", "Supertrend"},
			timeframes: []string{"4h", "4h", ""},
			want:       []string{"GodStra_4h", "Supertrend_4h"},
		},
		{
			name:       "no strategies",
			timeframes: []string{"4h"},
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, u := range BuildUnits(tt.strategies, tt.timeframes) {
				got = append(got, u.ID())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckUnitIDs(t *testing.T) {
	godstra := ExperimentUnit{Strategy: "GodStra", Timeframe: "4h"}

	assert.NoError(t, CheckUnitIDs(BuildUnits([]string{"GodStra", "GodStra_4h"}, []string{"4h", "1d"})))
	assert.NoError(t, CheckUnitIDs([]ExperimentUnit{godstra, godstra}))

	err := CheckUnitIDs([]ExperimentUnit{godstra, {Strategy: "GodStra_4h"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), `"GodStra_4h"`)
}

func TestBatchResult_RecordRejectsDuplicates(t *testing.T) {
	r := NewBatchResult(time.Now())
	unit := ExperimentUnit{Strategy: "GodStra", Timeframe: "4h"}

	require.NoError(t, r.Record(NewUnitOutcome(unit)))
	err := r.Record(NewUnitOutcome(unit))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateOutcome))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"GodStra_4h"}, r.Order)
}

func TestBatchResult_Counts(t *testing.T) {
	r := NewBatchResult(time.Now())
	states := map[string]UnitState{
		"A": UnitStateValidated,
		"B": UnitStateOptimizeFailed,
		"C": UnitStateValidateFailed,
		"D": UnitStateCancelled,
		"E": UnitStateValidated,
	}
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		o := NewUnitOutcome(ExperimentUnit{Strategy: id})
		o.State = states[id]
		require.NoError(t, r.Record(o))
	}

	assert.Equal(t, BatchCounts{Total: 5, Validated: 2, Failed: 2, Cancelled: 1}, r.Counts())

	var ordered []string
	for _, o := range r.Ordered() {
		ordered = append(ordered, o.Unit.ID())
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, ordered)
}

func TestUnitState(t *testing.T) {
	assert.True(t, UnitStateValidated.IsTerminal())
	assert.True(t, UnitStateCancelled.IsTerminal())
	assert.False(t, UnitStateOptimizing.IsTerminal())
	assert.True(t, UnitStateValidateFailed.IsFailure())
	assert.False(t, UnitStateCancelled.IsFailure())
	assert.Equal(t, UnitStateValidating, UnitStateFromString("validating"))
	assert.Equal(t, UnitStatePending, UnitStateFromString("bogus"))
}

func TestStageKind_Subcommand(t *testing.T) {
	assert.Equal(t, "download-data", StageDownload.Subcommand())
	assert.Equal(t, "hyperopt", StageOptimize.Subcommand())
	assert.Equal(t, "backtesting", StageValidate.Subcommand())
	assert.Equal(t, "", StageKind("other").Subcommand())
}

func TestStageOutcome_Err(t *testing.T) {
	ok := &StageOutcome{Stage: StageValidate, Success: true}
	assert.NoError(t, ok.Err())

	failed := &StageOutcome{Stage: StageOptimize, ExitCode: 2, Excerpt: "boom"}
	assert.ErrorIs(t, failed.Err(), ErrStageFailed)
	assert.Contains(t, failed.Err().Error(), "exited with code 2")

	timedOut := &StageOutcome{Stage: StageOptimize, ExitCode: -1, TimedOut: true}
	assert.ErrorIs(t, timedOut.Err(), ErrStageTimeout)
}

func TestConfigNotFoundError(t *testing.T) {
	err := error(ConfigNotFoundError{Path: "config.json", Example: "config/config_binance.example.json"})

	assert.ErrorIs(t, err, ErrConfigNotFound)
	assert.Equal(t,
		"config file not found: config.json (copy config/config_binance.example.json to config.json and edit it)",
		err.Error())
}
