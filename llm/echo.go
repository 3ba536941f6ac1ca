package llm

import (
	"context"
	"fmt"
	"strings"
)

// NewEchoCompleter returns a completer that answers with the context block
// of the prompt. It stands in for a model in tests and offline demos.
func NewEchoCompleter() Completer {
	return CompleterFunc(echo)
}

func echo(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	block := between(prompt, "CONTEXT:", "QUESTION:")
	if block == "" {
		return "I cannot find the answer in the provided context.", nil
	}

	return fmt.Sprintf("Based on the provided context:\n\n%s", block), nil
}

func between(s, from, to string) string {
	_, after, ok := strings.Cut(s, from)
	if !ok {
		return ""
	}

	before, _, _ := strings.Cut(after, to)
	return strings.TrimSpace(before)
}
