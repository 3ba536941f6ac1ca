package nats

import (
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/repochat"
)

func AddEndpoints(group micro.Group, endpoints *repochat.EndpointSet) {
	group.AddEndpoint("ask", AskHandler(endpoints.Ask))
	group.AddEndpoint("search", SearchHandler(endpoints.Search))
	group.AddEndpoint("health", HealthHandler(endpoints.Health))
}
