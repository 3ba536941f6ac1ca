package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/repochat"
	"github.com/flarexio/repochat/llm"
	"github.com/flarexio/repochat/vector"
)

// RequestTimeout bounds a round trip; answering includes a model call.
var RequestTimeout = 60 * time.Second

// Requester is the request side of a NATS connection.
type Requester interface {
	Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

func MakeEndpoints(nc Requester, prefix string) *repochat.EndpointSet {
	return &repochat.EndpointSet{
		Ask:    AskEndpoint(nc, prefix+".ask"),
		Search: SearchEndpoint(nc, prefix+".search"),
		Health: HealthEndpoint(nc, prefix+".health"),
	}
}

func roundTrip(nc Requester, topic string, req any) (*nats.Msg, error) {
	var data []byte
	if req != nil {
		bs, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}

		data = bs
	}

	resp, err := nc.Request(topic, data, RequestTimeout)
	if err != nil {
		return nil, err
	}

	if err := Error(resp); err != nil {
		return nil, err
	}

	return resp, nil
}

func AskEndpoint(nc Requester, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(repochat.AskRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		resp, err := roundTrip(nc, topic, &req)
		if err != nil {
			return nil, err
		}

		var answer *repochat.Answer
		if err := json.Unmarshal(resp.Data, &answer); err != nil {
			return nil, err
		}

		return answer, nil
	}
}

func SearchEndpoint(nc Requester, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(repochat.SearchRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		resp, err := roundTrip(nc, topic, &req)
		if err != nil {
			return nil, err
		}

		var results []vector.Result
		if err := json.Unmarshal(resp.Data, &results); err != nil {
			return nil, err
		}

		return results, nil
	}
}

func HealthEndpoint(nc Requester, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		resp, err := roundTrip(nc, topic, nil)
		if err != nil {
			return nil, err
		}

		var health repochat.HealthResponse
		if err := json.Unmarshal(resp.Data, &health); err != nil {
			return nil, err
		}

		return health, nil
	}
}

// Error decodes a micro error reply. Code 400 maps back to the service's
// argument errors and 413 to llm.ErrContextTooLarge.
func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	if code == "413" {
		description = strings.TrimPrefix(description, llm.ErrContextTooLarge.Error()+": ")
		return fmt.Errorf("%w: %s", llm.ErrContextTooLarge, description)
	}

	if code == "400" {
		if description == repochat.ErrEmptyQuestion.Error() {
			return repochat.ErrEmptyQuestion
		}

		description = strings.TrimPrefix(description, repochat.ErrInvalidArgument.Error()+": ")
		return fmt.Errorf("%w: %s", repochat.ErrInvalidArgument, description)
	}

	return errors.New(code + ":" + description)
}
