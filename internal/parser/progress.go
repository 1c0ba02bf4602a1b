package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultExcerptLength is the number of characters of error output kept for diagnostics.
const DefaultExcerptLength = 500

// ProgressKind classifies a streamed optimize line.
type ProgressKind int

const (
	ProgressNone ProgressKind = iota
	ProgressBestResult
	ProgressObjective
	ProgressEpoch
)

// String returns the string representation of the kind.
func (k ProgressKind) String() string {
	switch k {
	case ProgressBestResult:
		return "best_result"
	case ProgressObjective:
		return "objective"
	case ProgressEpoch:
		return "epoch"
	default:
		return "none"
	}
}

// Progress is a classified optimize output line.
type Progress struct {
	Kind  ProgressKind `json:"kind"`
	Line  string       `json:"line"`
	Epoch int          `json:"epoch,omitempty"`
	Total int          `json:"total,omitempty"`
}

var (
	epochRe      = regexp.MustCompile(`(?i)\bepochs?\b\D*?(\d+)\s*/\s*(\d+)`)
	epochTableRe = regexp.MustCompile(`^\s*\*?\s*(\d+)\s*/\s*(\d+)\s*:`)
)

// ClassifyProgress tags a line emitted while optimization is running.
func ClassifyProgress(line string) Progress {
	trimmed := strings.TrimSpace(line)
	p := Progress{Line: trimmed}

	switch {
	case strings.Contains(line, "Best result:"):
		p.Kind = ProgressBestResult
	case strings.Contains(line, "Objective:"):
		p.Kind = ProgressObjective
	case epochRe.MatchString(line):
		p.Kind = ProgressEpoch
		p.Epoch, p.Total = epochNumbers(epochRe.FindStringSubmatch(line))
	case epochTableRe.MatchString(line):
		p.Kind = ProgressEpoch
		p.Epoch, p.Total = epochNumbers(epochTableRe.FindStringSubmatch(line))
	case strings.Contains(strings.ToLower(line), "epoch") && strings.Contains(line, "/"):
		p.Kind = ProgressEpoch
	}

	return p
}

func epochNumbers(m []string) (int, int) {
	if len(m) < 3 {
		return 0, 0
	}
	n, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	return n, total
}

// Excerpt returns at most n characters from the start of text, trimmed.
func Excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}

// TailExcerpt returns at most n characters from the end of text, trimmed.
func TailExcerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[len(runes)-n:])
}
