package repochat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/repochat/vector"
)

func results(contents ...string) []vector.Result {
	rs := make([]vector.Result, len(contents))
	for i, c := range contents {
		rs[i] = vector.Result{
			ID:      c,
			Content: c,
			Score:   1 - float32(i)/10,
		}
	}

	return rs
}

func TestComposePrompt(t *testing.T) {
	assert := assert.New(t)

	composer := NewComposer(-1)

	prompt, used, err := composer.Compose("What does this repo do?",
		results("This repository implements X", "Hello world"))
	require.NoError(t, err)

	assert.Len(used, 2)
	assert.True(strings.HasPrefix(prompt, "You are an expert software developer assistant."))
	assert.Contains(prompt, "Answer the user's question based ONLY on the following context.")
	assert.Contains(prompt, "CONTEXT:\nThis repository implements X\n\nHello world\n\nQUESTION:\nWhat does this repo do?\n\nANSWER:")
}

func TestComposeKeepsTemplateSyntaxInQuestion(t *testing.T) {
	assert := assert.New(t)

	prompt, _, err := NewComposer(0).Compose("what is {{.context}}?", results("func main() {}"))
	require.NoError(t, err)

	assert.Contains(prompt, "QUESTION:\nwhat is {{.context}}?")
}

func TestComposeBudget(t *testing.T) {
	assert := assert.New(t)

	rs := results("aaaa", "bbbb", "cccc")

	// 4 + 2 + 4 fits, the third chunk does not.
	_, used, err := NewComposer(12).Compose("q", rs)
	require.NoError(t, err)
	assert.Equal(rs[:2], used)

	prompt, used, err := NewComposer(10).Compose("q", rs)
	require.NoError(t, err)
	assert.Len(used, 2)
	assert.Contains(prompt, "CONTEXT:\naaaa\n\nbbbb\n\nQUESTION:")

	prompt, used, err = NewComposer(0).Compose("q", rs)
	require.NoError(t, err)
	assert.Len(used, 3)
	assert.Contains(prompt, "aaaa\n\nbbbb\n\ncccc")
}

func TestComposeTruncatesFirstChunk(t *testing.T) {
	assert := assert.New(t)

	prompt, used, err := NewComposer(3).Compose("q", results("héllo", "world"))
	require.NoError(t, err)

	assert.Len(used, 1)
	assert.Contains(prompt, "CONTEXT:\nhél\n\nQUESTION:")
}

func TestComposeNoResults(t *testing.T) {
	assert := assert.New(t)

	prompt, used, err := NewComposer(100).Compose("q", nil)
	require.NoError(t, err)

	assert.Empty(used)
	assert.Contains(prompt, "CONTEXT:\n\n\nQUESTION:\nq")
}
