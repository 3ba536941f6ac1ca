package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/repochat"
	"github.com/flarexio/repochat/llm"
	"github.com/flarexio/repochat/vector"
)

type stubService struct {
	repochat.Service
	k []int
}

func (svc *stubService) Ask(ctx context.Context, question string) (*repochat.Answer, error) {
	if question == "" {
		return nil, repochat.ErrEmptyQuestion
	}

	switch question {
	case "boom":
		return nil, errors.New("index unavailable")

	case "everything":
		return nil, fmt.Errorf("%w: 9000 tokens", llm.ErrContextTooLarge)

	case "stall":
		<-ctx.Done()
		return nil, ctx.Err()
	}

	return &repochat.Answer{
		Answer:  "This repository implements X",
		Sources: []repochat.Source{{Path: "README.md", Score: 0.9}},
	}, nil
}

func (svc *stubService) Search(ctx context.Context, query string, k ...int) ([]vector.Result, error) {
	svc.k = k
	if len(k) > 0 && k[0] <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", repochat.ErrInvalidArgument, k[0])
	}

	return []vector.Result{{ID: "chunk_1", Content: "Hello world", Score: 1}}, nil
}

func (svc *stubService) Health(ctx context.Context) (string, error) {
	return repochat.HealthMessage, nil
}

// request is an in-memory micro.Request capturing the reply.
type request struct {
	data  []byte
	reply *nats.Msg
}

func (r *request) Respond(data []byte, opts ...micro.RespondOpt) error {
	r.reply.Data = data
	return nil
}

func (r *request) RespondJSON(v any, opts ...micro.RespondOpt) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return r.Respond(data)
}

func (r *request) Error(code, description string, data []byte, opts ...micro.RespondOpt) error {
	r.reply.Header = nats.Header{}
	r.reply.Header.Set(micro.ErrorCodeHeader, code)
	r.reply.Header.Set(micro.ErrorHeader, description)
	r.reply.Data = data
	return nil
}

func (r *request) Data() []byte           { return r.data }
func (r *request) Headers() micro.Headers { return micro.Headers{} }
func (r *request) Subject() string        { return "" }
func (r *request) Reply() string          { return "" }

// loopback routes requests straight to micro handlers.
type loopback map[string]micro.HandlerFunc

func (l loopback) Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	handler, ok := l[subj]
	if !ok {
		return nil, nats.ErrNoResponders
	}

	req := &request{data: data, reply: nats.NewMsg(subj)}
	handler(req)

	return req.reply, nil
}

func newProxy(svc repochat.Service) repochat.Service {
	endpoints := repochat.MakeEndpoints(svc)

	nc := loopback{
		"edges.test.repochat.ask":    AskHandler(endpoints.Ask),
		"edges.test.repochat.search": SearchHandler(endpoints.Search),
		"edges.test.repochat.health": HealthHandler(endpoints.Health),
	}

	return repochat.ProxyMiddleware(MakeEndpoints(nc, "edges.test.repochat"))(nil)
}

func TestAskRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	proxy := newProxy(&stubService{})

	answer, err := proxy.Ask(ctx, "What does this repo do?")
	require.NoError(t, err)
	assert.Equal("This repository implements X", answer.Answer)
	assert.Equal([]repochat.Source{{Path: "README.md", Score: 0.9}}, answer.Sources)

	_, err = proxy.Ask(ctx, "")
	assert.ErrorIs(err, repochat.ErrEmptyQuestion)

	_, err = proxy.Ask(ctx, "boom")
	assert.EqualError(err, "417:index unavailable")

	_, err = proxy.Ask(ctx, "everything")
	assert.ErrorIs(err, llm.ErrContextTooLarge)
	assert.Equal("prompt exceeds the model context window: 9000 tokens", err.Error())
}

func TestHandlerDeadline(t *testing.T) {
	assert := assert.New(t)

	timeout := RequestTimeout
	RequestTimeout = 50 * time.Millisecond
	t.Cleanup(func() { RequestTimeout = timeout })

	endpoints := repochat.MakeEndpoints(&stubService{})

	done := make(chan *request, 1)
	go func() {
		req := &request{data: []byte(`{"question":"stall"}`), reply: nats.NewMsg("ask")}
		AskHandler(endpoints.Ask)(req)
		done <- req
	}()

	select {
	case req := <-done:
		assert.Equal("417", req.reply.Header.Get(micro.ErrorCodeHeader))
		assert.Contains(req.reply.Header.Get(micro.ErrorHeader), context.DeadlineExceeded.Error())

	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after its deadline")
	}
}

func TestSearchRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	svc := &stubService{}
	proxy := newProxy(svc)

	results, err := proxy.Search(ctx, "hello", 2)
	require.NoError(t, err)
	assert.Equal([]int{2}, svc.k)
	if assert.Len(results, 1) {
		assert.Equal("Hello world", results[0].Content)
	}

	_, err = proxy.Search(ctx, "hello")
	require.NoError(t, err)
	assert.Empty(svc.k)
}

func TestHealthRoundTrip(t *testing.T) {
	assert := assert.New(t)

	msg, err := newProxy(&stubService{}).Health(context.Background())
	assert.NoError(err)
	assert.Equal(repochat.HealthMessage, msg)
}

func TestError(t *testing.T) {
	assert := assert.New(t)

	msg := nats.NewMsg("x")
	assert.NoError(Error(msg))
	assert.Error(Error(nil))

	msg.Header = nats.Header{}
	msg.Header.Set(micro.ErrorCodeHeader, "400")
	msg.Header.Set(micro.ErrorHeader, "invalid argument: k must be positive, got 0")

	err := Error(msg)
	assert.ErrorIs(err, repochat.ErrInvalidArgument)
	assert.Equal("invalid argument: k must be positive, got 0", err.Error())
	assert.False(strings.Contains(err.Error(), "invalid argument: invalid argument"))
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	assert := assert.New(t)

	endpoints := repochat.MakeEndpoints(&stubService{})

	req := &request{data: []byte("{"), reply: nats.NewMsg("ask")}
	AskHandler(endpoints.Ask)(req)

	assert.Equal("400", req.reply.Header.Get(micro.ErrorCodeHeader))
}
