// internal/handlers/router.go
package handlers

import (
	"net/http"
	"net/url"

	"github.com/jason-s-yu/codeduel/internal/auth"
	"github.com/jason-s-yu/codeduel/internal/bridge"
	"github.com/jason-s-yu/codeduel/internal/metrics"
	"github.com/jason-s-yu/codeduel/internal/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the REST API, the game socket, health and metrics behind CORS, access
// logging and panic recovery.
func NewRouter(logger *logrus.Logger, api *API, b *bridge.Bridge, corsAllow []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("POST /rooms", auth.RequireUser(http.HandlerFunc(api.CreateRoom)))
	mux.Handle("POST /rooms/join", auth.RequireUser(http.HandlerFunc(api.JoinRoom)))
	mux.Handle("GET /rooms/active", auth.RequireUser(http.HandlerFunc(api.ActiveRoom)))
	mux.Handle("GET /rooms/{id}", auth.RequireUser(http.HandlerFunc(api.GetRoom)))
	mux.Handle("POST /matchmaking/find", auth.RequireUser(http.HandlerFunc(api.FindMatch)))
	mux.Handle("DELETE /matchmaking/find", auth.RequireUser(http.HandlerFunc(api.CancelMatch)))

	if b != nil {
		mux.Handle("GET /ws", GameWSHandler(logger, b, originHosts(corsAllow)))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllow,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return middleware.Recover(logger)(middleware.LogMiddleware(logger)(c.Handler(mux)))
}

// originHosts turns CORS origins ("https://app.example.com") into the host patterns the
// websocket origin check expects.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
