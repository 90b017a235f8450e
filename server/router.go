package server

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"shooting/server/domain"
	"shooting/server/handler"
)

func Route(pubsub domain.PubSub, roomManager domain.RoomManager, cfg domain.EndpointConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", handler.NewAcceptHandler(pubsub, roomManager, cfg))
	mux.Handle("GET /healthz", handler.NewHealthHandler())
	return otelhttp.NewHandler(mux, "shooting",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
