// Package domain contains the core domain models for freqsweep.
package domain

// UnitState represents the position of an experiment unit in its pipeline.
type UnitState string

const (
	UnitStatePending        UnitState = "pending"
	UnitStateOptimizing     UnitState = "optimizing"
	UnitStateOptimizeFailed UnitState = "optimize_failed"
	UnitStateValidating     UnitState = "validating"
	UnitStateValidated      UnitState = "validated"
	UnitStateValidateFailed UnitState = "validate_failed"
	UnitStateCancelled      UnitState = "cancelled"
)

// IsTerminal returns true if the state is terminal (no further transitions).
func (s UnitState) IsTerminal() bool {
	switch s {
	case UnitStateOptimizeFailed, UnitStateValidated, UnitStateValidateFailed, UnitStateCancelled:
		return true
	default:
		return false
	}
}

// IsFailure returns true if a stage of the unit failed.
func (s UnitState) IsFailure() bool {
	return s == UnitStateOptimizeFailed || s == UnitStateValidateFailed
}

// IsValid returns true if the state is a valid UnitState.
func (s UnitState) IsValid() bool {
	switch s {
	case UnitStatePending, UnitStateOptimizing, UnitStateOptimizeFailed,
		UnitStateValidating, UnitStateValidated, UnitStateValidateFailed, UnitStateCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the state.
func (s UnitState) String() string {
	return string(s)
}

// UnitStateFromString converts a string to UnitState.
func UnitStateFromString(s string) UnitState {
	state := UnitState(s)
	if state.IsValid() {
		return state
	}
	return UnitStatePending
}

// StageKind identifies one external tool operation.
type StageKind string

const (
	StageDownload StageKind = "download"
	StageOptimize StageKind = "optimize"
	StageValidate StageKind = "validate"
)

// IsValid returns true if the kind is a valid StageKind.
func (k StageKind) IsValid() bool {
	switch k {
	case StageDownload, StageOptimize, StageValidate:
		return true
	default:
		return false
	}
}

// String returns the string representation of the stage kind.
func (k StageKind) String() string {
	return string(k)
}

// Subcommand returns the external tool subcommand for the stage.
func (k StageKind) Subcommand() string {
	switch k {
	case StageDownload:
		return "download-data"
	case StageOptimize:
		return "hyperopt"
	case StageValidate:
		return "backtesting"
	default:
		return ""
	}
}
