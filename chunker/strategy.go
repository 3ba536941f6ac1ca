package chunker

import (
	"path"
	"strings"
)

// separator is a boundary token. The chunk is cut cut runes into the token,
// so "\ndef " with cut 1 keeps the newline on the left and starts the next
// piece at "def".
type separator struct {
	token []rune
	cut   int
}

func sep(token string, cut int) separator {
	return separator{token: []rune(token), cut: cut}
}

// Strategy is an ordered list of separators, coarsest first.
type Strategy struct {
	Name       string
	separators []separator
}

var (
	Python = Strategy{
		Name: "python",
		separators: []separator{
			sep("\nclass ", 1),
			sep("\ndef ", 1),
			sep("\n    def ", 1),
			sep("\n\n", 2),
			sep("\n", 1),
			sep(" ", 1),
		},
	}

	JavaScript = Strategy{
		Name: "javascript",
		separators: []separator{
			sep("\nfunction ", 1),
			sep("\nclass ", 1),
			sep("\nexport ", 1),
			sep("\nconst ", 1),
			sep("\n\n", 2),
			sep("\n", 1),
			sep(" ", 1),
		},
	}

	Markdown = Strategy{
		Name: "markdown",
		separators: []separator{
			sep("\n# ", 1),
			sep("\n## ", 1),
			sep("\n### ", 1),
			sep("\n#### ", 1),
			sep("\n##### ", 1),
			sep("\n###### ", 1),
			sep("\n```", 1),
			sep("\n---\n", 1),
			sep("\n\n", 2),
			sep("\n", 1),
			sep(" ", 1),
		},
	}

	Generic = Strategy{
		Name: "generic",
		separators: []separator{
			sep("\n\n", 2),
			sep("\n", 1),
			sep(" ", 1),
		},
	}
)

// StrategyFor picks the splitting strategy from the file extension.
func StrategyFor(name string) Strategy {
	switch strings.ToLower(path.Ext(name)) {
	case ".py":
		return Python
	case ".js", ".jsx", ".mjs", ".ts", ".tsx":
		return JavaScript
	case ".md", ".markdown":
		return Markdown
	default:
		return Generic
	}
}

// cut returns the end of a chunk: the last boundary of the coarsest
// separator found in [lo, hi], or a hard cut at hi.
func (s Strategy) cut(text []rune, lo, hi int) int {
	for _, sp := range s.separators {
		for p := hi - sp.cut; p >= lo-sp.cut; p-- {
			if p < 0 || p+len(sp.token) > len(text) {
				continue
			}

			if matchAt(text, p, sp.token) {
				return p + sp.cut
			}
		}
	}

	return hi
}

func matchAt(text []rune, p int, token []rune) bool {
	for i, r := range token {
		if text[p+i] != r {
			return false
		}
	}
	return true
}
