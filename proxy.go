package repochat

import (
	"context"
	"errors"
	"fmt"

	"github.com/flarexio/repochat/vector"
)

// ProxyMiddleware serves the Service through remote endpoints, such as the
// NATS client endpoints.
func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return ErrMethodNotImplemented
}

func (mw *proxyMiddleware) Ask(ctx context.Context, question string) (*Answer, error) {
	resp, err := mw.endpoints.Ask(ctx, AskRequest{question})
	if err != nil {
		return nil, err
	}

	answer, ok := resp.(*Answer)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return answer, nil
}

func (mw *proxyMiddleware) Search(ctx context.Context, query string, k ...int) ([]vector.Result, error) {
	req := SearchRequest{
		Query: query,
	}

	if len(k) > 0 {
		if k[0] <= 0 {
			return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k[0])
		}

		req.K = k[0]
	}

	resp, err := mw.endpoints.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	results, ok := resp.([]vector.Result)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return results, nil
}

func (mw *proxyMiddleware) Health(ctx context.Context) (string, error) {
	resp, err := mw.endpoints.Health(ctx, nil)
	if err != nil {
		return "", err
	}

	health, ok := resp.(HealthResponse)
	if !ok {
		return "", errors.New("invalid response type")
	}

	return health.Message, nil
}
