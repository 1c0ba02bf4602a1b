package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyProgress(t *testing.T) {
	tests := []struct {
		line  string
		kind  ProgressKind
		epoch int
		total int
	}{
		{line: "Best result:", kind: ProgressBestResult},
		{line: "    Objective: -1.2345", kind: ProgressObjective},
		{line: "Epoch 12/100 finished", kind: ProgressEpoch, epoch: 12, total: 100},
		{line: "*   42/300:     17 trades. Avg profit 1.2%", kind: ProgressEpoch, epoch: 42, total: 300},
		{line: "epochs done / see log", kind: ProgressEpoch},
		{line: "Loading data from 2020-01-01", kind: ProgressNone},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			p := ClassifyProgress(tt.line)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, tt.epoch, p.Epoch)
			assert.Equal(t, tt.total, p.Total)
			assert.Equal(t, strings.TrimSpace(tt.line), p.Line)
		})
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "abc", Excerpt("  abc  ", 10))
	assert.Equal(t, "abc", Excerpt("abcdef", 3))
	assert.Equal(t, "def", TailExcerpt("abcdef", 3))
	assert.Equal(t, "héll", Excerpt("héllo", 4))
	assert.Equal(t, "abcdef", Excerpt("abcdef", 0))
	assert.Len(t, []rune(Excerpt(strings.Repeat("x", 2000), DefaultExcerptLength)), DefaultExcerptLength)
}
