// Package parser extracts structured metrics from the external tool's text reports.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
)

// Layout selects the delimiter between a report label and its value.
type Layout string

const (
	// LayoutColon reads "Label: value" lines.
	LayoutColon Layout = "colon"
	// LayoutPipe reads table rows such as "| Label | value |" (ASCII or box-drawing bars).
	LayoutPipe Layout = "pipe"
)

// IsValid returns true if the layout is known.
func (l Layout) IsValid() bool {
	return l == LayoutColon || l == LayoutPipe
}

// String returns the string representation of the layout.
func (l Layout) String() string {
	return string(l)
}

// ParseLayout converts a string to a Layout.
func ParseLayout(s string) (Layout, error) {
	l := Layout(strings.ToLower(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("%w: unknown report layout %q", domain.ErrInvalidInput, s)
	}
	return l, nil
}

// Rule maps a report-line signature to an extraction. Match decides whether a line
// belongs to the rule; Extract pulls the value out of it, optionally looking at the
// line that follows.
type Rule struct {
	Field   string
	Match   func(line string) bool
	Extract func(line, next string, layout Layout) (string, bool)
}

// Report line signatures.
var (
	winDrawLossRe = regexp.MustCompile(`Win\s+Draw\s+Loss`)

	profitTriggers   = []string{"Total profit", "Absolute profit"}
	tradesTriggers   = []string{"Total trades", "Total/Daily Avg Trades"}
	durationTriggers = []string{"Avg. Duration", "Avg Duration"}
	drawdownTriggers = []string{"Max Drawdown", "Drawdown"}
)

// DefaultRules is the ordered rule table for the tool's backtest report.
// The first rule that matches a line and extracts a value claims it.
var DefaultRules = []Rule{
	{
		Field:   domain.MetricTotalProfit,
		Match:   containsAny(profitTriggers...),
		Extract: labeledValue(profitTriggers, hasDigit),
	},
	{
		Field:   domain.MetricTrades,
		Match:   containsAny(tradesTriggers...),
		Extract: labeledValue(tradesTriggers, leadingInt),
	},
	{
		Field:   domain.MetricWinRate,
		Match:   winDrawLossRe.MatchString,
		Extract: winRateFromNext,
	},
	{
		Field:   domain.MetricAvgDuration,
		Match:   containsAny(durationTriggers...),
		Extract: labeledValue(durationTriggers, hasDigit),
	},
	{
		Field:   domain.MetricMaxDrawdown,
		Match:   containsAny(drawdownTriggers...),
		Extract: labeledValue(drawdownTriggers, hasDigit),
	},
}

// Parser turns a captured report into Metrics.
type Parser struct {
	rules  []Rule
	logger *zap.Logger
}

// NewParser creates a Parser. With no rules it uses DefaultRules.
func NewParser(logger *zap.Logger, rules ...Rule) *Parser {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{rules: rules, logger: logger}
}

// Parse scans text once, line by line, and returns the metrics it recognizes.
// A field is set by its first successful extraction. Unrecognized or malformed
// content is skipped; Parse never fails.
func (p *Parser) Parse(text string, layout Layout) domain.Metrics {
	metrics := domain.Metrics{}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i, line := range lines {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		for _, rule := range p.rules {
			if _, done := metrics[rule.Field]; done {
				continue
			}
			if !rule.Match(line) {
				continue
			}
			if value, ok := rule.Extract(line, next, layout); ok {
				metrics[rule.Field] = value
				break
			}
		}
	}

	if len(metrics) < len(p.rules) {
		p.logger.Debug("Report parsed with missing fields",
			zap.String("layout", layout.String()),
			zap.Int("found", len(metrics)),
			zap.Int("expected", len(p.rules)),
		)
	}

	return metrics
}

// Parse parses text with DefaultRules.
func Parse(text string, layout Layout) domain.Metrics {
	return NewParser(nil).Parse(text, layout)
}

func containsAny(triggers ...string) func(string) bool {
	return func(line string) bool {
		for _, t := range triggers {
			if strings.Contains(line, t) {
				return true
			}
		}
		return false
	}
}

// labeledValue extracts the value following the first matching trigger and
// accepts it only if check returns a normalized value.
func labeledValue(triggers []string, check func(string) (string, bool)) func(line, next string, layout Layout) (string, bool) {
	return func(line, _ string, layout Layout) (string, bool) {
		for _, t := range triggers {
			if !strings.Contains(line, t) {
				continue
			}
			raw, ok := valueAfter(line, t, layout)
			if !ok {
				continue
			}
			if v, ok := check(raw); ok {
				return v, true
			}
		}
		return "", false
	}
}

// valueAfter returns the segment that follows the label containing trigger.
func valueAfter(line, trigger string, layout Layout) (string, bool) {
	switch layout {
	case LayoutColon:
		idx := strings.Index(line, trigger)
		rest := line[idx+len(trigger):]
		colon := strings.Index(rest, ":")
		if colon == -1 {
			return "", false
		}
		v := strings.TrimSpace(rest[colon+1:])
		return v, v != ""
	case LayoutPipe:
		segments := splitPipes(line)
		for i, seg := range segments {
			if !strings.Contains(seg, trigger) {
				continue
			}
			for _, candidate := range segments[i+1:] {
				if v := strings.TrimSpace(candidate); v != "" {
					return v, true
				}
			}
			return "", false
		}
	}
	return "", false
}

func splitPipes(line string) []string {
	return strings.FieldsFunc(line, isPipe)
}

func isPipe(r rune) bool {
	return r == '|' || r == '│' || r == '┃'
}

// winRateFromNext reads "W D L" from the line after a win/draw/loss header.
func winRateFromNext(_, next string, _ Layout) (string, bool) {
	fields := strings.Fields(strings.Map(func(r rune) rune {
		if isPipe(r) {
			return ' '
		}
		return r
	}, next))
	if len(fields) < 3 {
		return "", false
	}

	var counts [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil || n < 0 {
			return "", false
		}
		counts[i] = n
	}

	total := counts[0] + counts[1] + counts[2]
	if total == 0 {
		return "", false
	}
	rate := float64(counts[0]) / float64(total) * 100
	return strconv.FormatFloat(rate, 'f', 1, 64) + "%", true
}

func hasDigit(v string) (string, bool) {
	if strings.IndexFunc(v, func(r rune) bool { return r >= '0' && r <= '9' }) == -1 {
		return "", false
	}
	return v, true
}

func leadingInt(v string) (string, bool) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return "", false
	}
	return fields[0], true
}
