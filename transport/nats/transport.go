package nats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/repochat"
	"github.com/flarexio/repochat/llm"
)

// respondError replies with 400 for caller mistakes, 413 for a prompt the
// model cannot take and 417 for everything else, matching the codes Error
// decodes on the client side.
func respondError(r micro.Request, err error) {
	code := "417"
	switch {
	case errors.Is(err, repochat.ErrInvalidArgument), errors.Is(err, repochat.ErrEmptyQuestion):
		code = "400"

	case errors.Is(err, llm.ErrContextTooLarge):
		code = "413"
	}

	r.Error(code, err.Error(), nil)
}

// handlerContext bounds a handler by the time its requester waits.
func handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), RequestTimeout)
}

func AskHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req repochat.AskRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx, cancel := handlerContext()
		defer cancel()

		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(r, err)
			return
		}

		answer, ok := resp.(*repochat.Answer)
		if !ok {
			r.Error("500", "invalid response type", nil)
			return
		}

		r.RespondJSON(answer)
	}
}

func SearchHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req repochat.SearchRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx, cancel := handlerContext()
		defer cancel()

		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}

func HealthHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		ctx, cancel := handlerContext()
		defer cancel()

		resp, err := endpoint(ctx, nil)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}
