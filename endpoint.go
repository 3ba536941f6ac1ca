package repochat

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"
)

type EndpointSet struct {
	Ask    endpoint.Endpoint
	Search endpoint.Endpoint
	Health endpoint.Endpoint
}

func MakeEndpoints(svc Service) *EndpointSet {
	return &EndpointSet{
		Ask:    AskEndpoint(svc),
		Search: SearchEndpoint(svc),
		Health: HealthEndpoint(svc),
	}
}

type AskRequest struct {
	Question string `json:"question"`
}

func AskEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(AskRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Ask(ctx, req.Question)
	}
}

type SearchRequest struct {
	Query string `json:"query" form:"query"`

	// K falls back to the configured top k when zero.
	K int `json:"k,omitempty" form:"k"`
}

func SearchEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(SearchRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		if req.K == 0 {
			return svc.Search(ctx, req.Query)
		}

		return svc.Search(ctx, req.Query, req.K)
	}
}

type HealthResponse struct {
	Message string `json:"message"`
}

func HealthEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		msg, err := svc.Health(ctx)
		if err != nil {
			return nil, err
		}

		return HealthResponse{msg}, nil
	}
}
