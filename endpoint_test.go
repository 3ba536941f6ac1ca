package repochat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/flarexio/repochat/embedding"
	"github.com/flarexio/repochat/llm"
	"github.com/flarexio/repochat/persistence/chromem"
)

func newTestService(t *testing.T) Service {
	cfg := testConfig()

	embedder, err := embedding.NewHashEmbedder(64)
	require.NoError(t, err)

	index, err := chromem.NewChromemIndex(cfg.Vector)
	require.NoError(t, err)

	ingestor, err := NewIngestor(cfg, &staticFetcher{docs: testDocuments()}, embedder, index)
	require.NoError(t, err)

	_, err = ingestor.Ingest(context.Background(), IngestOptions{})
	require.NoError(t, err)

	svc, err := NewService(cfg, embedder, index, llm.NewEchoCompleter())
	require.NoError(t, err)

	return svc
}

func TestProxyMiddleware(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	endpoints := MakeEndpoints(newTestService(t))
	proxy := ProxyMiddleware(endpoints)(nil)

	answer, err := proxy.Ask(ctx, "What does this repo do?")
	require.NoError(t, err)
	assert.Contains(answer.Answer, "This repository implements X")

	results, err := proxy.Search(ctx, "Hello world", 1)
	require.NoError(t, err)
	if assert.Len(results, 1) {
		assert.Equal("a.md", results[0].Metadata.SourcePath)
	}

	results, err = proxy.Search(ctx, "Hello world")
	require.NoError(t, err)
	assert.Len(results, 5)

	_, err = proxy.Search(ctx, "Hello world", 0)
	assert.ErrorIs(err, ErrInvalidArgument)

	msg, err := proxy.Health(ctx)
	require.NoError(t, err)
	assert.Equal(HealthMessage, msg)

	assert.ErrorIs(proxy.Close(), ErrMethodNotImplemented)
}

func TestEndpointsRejectInvalidRequest(t *testing.T) {
	assert := assert.New(t)

	endpoints := MakeEndpoints(newTestService(t))

	_, err := endpoints.Ask(context.Background(), "not a request")
	assert.EqualError(err, "invalid request type")

	_, err = endpoints.Search(context.Background(), AskRequest{})
	assert.EqualError(err, "invalid request type")
}

func TestLoggingMiddleware(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	core, logs := observer.New(zapcore.InfoLevel)
	svc := LoggingMiddleware(zap.New(core))(newTestService(t))

	_, err := svc.Ask(ctx, "What does this repo do?")
	require.NoError(t, err)

	_, err = svc.Ask(ctx, "")
	assert.ErrorIs(err, ErrEmptyQuestion)

	_, err = svc.Search(ctx, "Hello world", 2)
	require.NoError(t, err)

	assert.Equal(1, logs.FilterMessage("service initialized").Len())
	assert.Equal(1, logs.FilterMessage("question answered").Len())
	assert.Equal(1, logs.FilterMessage(ErrEmptyQuestion.Error()).Len())

	searches := logs.FilterField(zap.String("action", "search")).All()
	if assert.Len(searches, 1) {
		assert.Equal("chunks retrieved", searches[0].Message)
		assert.Equal(int64(2), searches[0].ContextMap()["count"])
	}
}
