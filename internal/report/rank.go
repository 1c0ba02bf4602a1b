// Package report ranks batch outcomes and renders or persists the batch summary.
package report

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
)

// DefaultTopN is the number of ranked units shown in a summary.
const DefaultTopN = 5

// Ranked is a validated unit with its numeric profit.
type Ranked struct {
	Rank    int                 `json:"rank"`
	Unit    string              `json:"unit"`
	Profit  float64             `json:"profit"`
	Outcome *domain.UnitOutcome `json:"-"`
}

// Rank returns the validated units sorted by profit, highest first. Units with
// equal profit keep their batch order. A profit that cannot be read ranks as 0.
func Rank(result *domain.BatchResult, logger *zap.Logger) []Ranked {
	if logger == nil {
		logger = zap.NewNop()
	}

	var ranked []Ranked
	for _, o := range result.Ordered() {
		if o.State != domain.UnitStateValidated {
			continue
		}
		raw, _ := o.Metrics.Get(domain.MetricTotalProfit)
		profit, ok := ProfitValue(raw)
		if !ok {
			logger.Warn("Unreadable profit value, ranking as zero",
				zap.String("unit", o.Unit.ID()),
				zap.String("raw", raw),
			)
		}
		ranked = append(ranked, Ranked{Unit: o.Unit.ID(), Profit: profit, Outcome: o})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Profit > ranked[j].Profit
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// ProfitValue reads the leading number of a profit string such as "12.34%" or
// "12.34 USDT". It returns (0, false) when no number can be read.
func ProfitValue(text string) (float64, bool) {
	s := strings.ReplaceAll(text, "%", "")
	s = strings.ReplaceAll(s, "USDT", "")
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Failures lists the units whose optimize or validate stage failed, in batch order.
func Failures(result *domain.BatchResult) []string {
	return idsWhere(result, func(s domain.UnitState) bool { return s.IsFailure() })
}

// Cancelled lists the units that never ran because the batch was cancelled.
func Cancelled(result *domain.BatchResult) []string {
	return idsWhere(result, func(s domain.UnitState) bool { return s == domain.UnitStateCancelled })
}

func idsWhere(result *domain.BatchResult, match func(domain.UnitState) bool) []string {
	var ids []string
	for _, o := range result.Ordered() {
		if match(o.State) {
			ids = append(ids, o.Unit.ID())
		}
	}
	return ids
}

// Top returns at most n entries of ranked. A non-positive n selects DefaultTopN.
func Top(ranked []Ranked, n int) []Ranked {
	if n <= 0 {
		n = DefaultTopN
	}
	if len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}
