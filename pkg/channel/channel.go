package channel

import (
	"context"
	"net/http"

	"shopchat/pkg/bus"
)

// Handler hands one normalized inbound message to the dialogue manager. Responses flow back
// through msg.Output, not through the return value.
type Handler func(ctx context.Context, msg bus.InboundMessage) error

// Adapter bridges one external transport into the dialogue manager.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// Mounter is implemented by adapters that serve their transport on the gateway's HTTP mux.
// Mount is called once, before Run.
type Mounter interface {
	Mount(mux *http.ServeMux, handler Handler)
}
