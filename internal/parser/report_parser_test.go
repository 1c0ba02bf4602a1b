package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/freqsweep/internal/domain"
)

const pipeReport = `
Result for strategy GodStra
                                   BACKTESTING REPORT
┏━━━━━━━━━━┳━━━━━━━━┳━━━━━━━━━━━━━━┳━━━━━━━━━━━━━━┳━━━━━━━━━━━━━━━━━━━━━━━━┓
┃     Pair ┃ Trades ┃ Avg Profit % ┃ Avg Duration ┃  Win  Draw  Loss  Win% ┃
┡━━━━━━━━━━╇━━━━━━━━╇━━━━━━━━━━━━━━╇━━━━━━━━━━━━━━╇━━━━━━━━━━━━━━━━━━━━━━━━┩
│ BTC/USDT │     10 │         1.52 │      2:30:00 │    7     1     2  70.0 │
└──────────┴────────┴──────────────┴──────────────┴────────────────────────┘
| Total/Daily Avg Trades | 42 / 0.12 |
| Total profit %         | 15.2%     |
| Avg. Duration Winners  | 1 day, 2:15:00 |
| Max Drawdown           | 4.3%      |
`

func TestParse_PipeLayout(t *testing.T) {
	p := NewParser(zaptest.NewLogger(t))

	m := p.Parse(pipeReport, LayoutPipe)

	assert.Equal(t, "15.2%", m[domain.MetricTotalProfit])
	assert.Equal(t, "42", m[domain.MetricTrades])
	assert.Equal(t, "1 day, 2:15:00", m[domain.MetricAvgDuration])
	assert.Equal(t, "4.3%", m[domain.MetricMaxDrawdown])
	// The header row is followed by a rule line, so no win rate is derived from it.
	_, ok := m[domain.MetricWinRate]
	assert.False(t, ok)
}

func TestParse_ColonLayout(t *testing.T) {
	text := "Total profit: 12.34 USDT\n" +
		"Win  Draw  Loss\n" +
		"7 1 2\n" +
		"Max Drawdown: 3.5%\n" +
		"Avg Duration: 1:02:03\n"

	m := Parse(text, LayoutColon)

	assert.Equal(t, domain.Metrics{
		domain.MetricTotalProfit: "12.34 USDT",
		domain.MetricWinRate:     "70.0%",
		domain.MetricMaxDrawdown: "3.5%",
		domain.MetricAvgDuration: "1:02:03",
	}, m)
}

func TestParse_WinRate(t *testing.T) {
	tests := []struct {
		name string
		next string
		want string
		ok   bool
	}{
		{name: "seven of ten", next: "7 1 2", want: "70.0%", ok: true},
		{name: "zero total omitted", next: "0 0 0", ok: false},
		{name: "pipe delimited", next: "| 3 | 0 | 1 |", want: "75.0%", ok: true},
		{name: "too few values", next: "7 1", ok: false},
		{name: "not numeric", next: "a b c", ok: false},
		{name: "negative", next: "-1 2 3", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Parse("Win  Draw  Loss\n"+tt.next, LayoutColon)
			got, ok := m[domain.MetricWinRate]
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_FirstExtractionWins(t *testing.T) {
	text := "Absolute profit: 152.3 USDT\nTotal profit: 15.2%\n"

	m := Parse(text, LayoutColon)

	assert.Equal(t, "152.3 USDT", m[domain.MetricTotalProfit])
}

func TestParse_MalformedFieldsAreOmitted(t *testing.T) {
	text := "Total profit: n/a\nMax Drawdown:\nTotal trades: many\n"

	m := Parse(text, LayoutColon)

	assert.Empty(t, m)
}

func TestParse_GarbageYieldsEmptyMetrics(t *testing.T) {
	for _, layout := range []Layout{LayoutColon, LayoutPipe} {
		m := Parse("lorem ipsum\n\x00\x01|||:::\n", layout)
		require.NotNil(t, m)
		assert.Empty(t, m)
	}
	assert.Empty(t, Parse("", LayoutPipe))
}

func TestParse_Idempotent(t *testing.T) {
	p := NewParser(zaptest.NewLogger(t))

	first := p.Parse(pipeReport, LayoutPipe)
	second := p.Parse(pipeReport, LayoutPipe)

	assert.Equal(t, first, second)
}

func TestParse_LayoutIsAnInput(t *testing.T) {
	line := "Total profit: 9.9%"

	assert.Equal(t, "9.9%", Parse(line, LayoutColon)[domain.MetricTotalProfit])
	assert.Empty(t, Parse(line, LayoutPipe))
}

func TestParse_CustomRules(t *testing.T) {
	rule := Rule{
		Field:   "sharpe",
		Match:   containsAny("Sharpe"),
		Extract: labeledValue([]string{"Sharpe"}, hasDigit),
	}
	p := NewParser(zaptest.NewLogger(t), rule)

	m := p.Parse("| Sharpe | 1.42 |\n| Total profit % | 3% |", LayoutPipe)

	assert.Equal(t, domain.Metrics{"sharpe": "1.42"}, m)
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout(" Pipe ")
	require.NoError(t, err)
	assert.Equal(t, LayoutPipe, l)

	_, err = ParseLayout("tsv")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
