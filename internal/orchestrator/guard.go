package orchestrator

import (
	"regexp"
	"strings"
)

const DefaultMaxResultBytes = 64 * 1024 // 64KB

// Patterns that try to smuggle instructions or fake tool calls back into the
// model context through capability output.
var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"type"\s*:\s*"function"`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior) instructions`),
}

// Guard sanitizes capability output before it re-enters the model context.
type Guard struct {
	MaxResultBytes    int
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxResultBytes:    DefaultMaxResultBytes,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

func (g *Guard) Sanitize(s string) string {
	if s == "" {
		return s
	}

	s = stripControl(s)

	if g.MaxResultBytes > 0 && len(s) > g.MaxResultBytes {
		s = s[:g.MaxResultBytes] + "\n[truncated: capability output exceeded size limit]"
	}

	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}

	return s
}

// stripControl drops control characters except newline and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
