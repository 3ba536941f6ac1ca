package repochat

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/prompts"

	"github.com/flarexio/repochat/vector"
)

const contextSeparator = "\n\n"

const promptTemplate = `You are an expert software developer assistant.
Answer the user's question based ONLY on the following context.
If the context does not contain the answer, state clearly that you cannot
find the answer in the provided context.

CONTEXT:
{{.context}}

QUESTION:
{{.question}}

ANSWER:
`

// Composer renders retrieved chunks and a question into a grounded prompt.
type Composer struct {
	template prompts.PromptTemplate
	budget   int
}

// NewComposer returns a Composer whose context holds at most budget
// characters of retrieved text. A budget <= 0 means unlimited.
func NewComposer(budget int) *Composer {
	return &Composer{
		template: prompts.NewPromptTemplate(promptTemplate, []string{"context", "question"}),
		budget:   budget,
	}
}

// Compose returns the prompt and the results that made it into the context,
// in retrieval order. Whole results are kept while they fit; the first one
// is truncated instead of dropped.
func (c *Composer) Compose(question string, results []vector.Result) (string, []vector.Result, error) {
	parts, used := c.fit(results)

	prompt, err := c.template.Format(map[string]any{
		"context":  strings.Join(parts, contextSeparator),
		"question": question,
	})
	if err != nil {
		return "", nil, err
	}

	return prompt, used, nil
}

func (c *Composer) fit(results []vector.Result) ([]string, []vector.Result) {
	parts := make([]string, 0, len(results))
	used := make([]vector.Result, 0, len(results))

	if c.budget <= 0 {
		for _, r := range results {
			parts = append(parts, r.Content)
			used = append(used, r)
		}

		return parts, used
	}

	remaining := c.budget
	for i, r := range results {
		cost := utf8.RuneCountInString(r.Content)
		if i > 0 {
			cost += utf8.RuneCountInString(contextSeparator)
		}

		if cost <= remaining {
			parts = append(parts, r.Content)
			used = append(used, r)
			remaining -= cost
			continue
		}

		if i == 0 {
			parts = append(parts, truncate(r.Content, remaining))
			used = append(used, r)
		}

		break
	}

	return parts, used
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}

	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}

	return s
}
