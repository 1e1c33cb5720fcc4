package handlers

import (
	"net/http"

	"iptv-gate/work/auth"
	"iptv-gate/work/middleware"
	"iptv-gate/work/types"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers every route. The router keeps paths encoded and uncleaned so the origin
// segment of a proxy URL is decoded exactly once, by the gateway. extra receives the /api
// subrouter, already behind the session middleware.
func NewRouter(app *App, extra ...func(api *mux.Router)) *mux.Router {
	router := mux.NewRouter().UseEncodedPath().SkipClean(true)
	router.Use(middleware.RequestLogger)

	router.HandleFunc("/playlist/{accessCode}/m3u8", HandlePlaylistM3U8(app)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/playlist/{accessCode}/json", middleware.Gzip(HandlePlaylistJSON(app))).Methods(http.MethodGet)
	router.HandleFunc("/stream/proxy/{token}/{origin}", HandleStreamProxy(app)).Methods(http.MethodGet, http.MethodHead)

	router.HandleFunc("/healthz", HandleHealth(app)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(app.Auth.Middleware)

	api.HandleFunc("/auth/register", HandleRegister(app)).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", HandleLogin(app)).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", auth.RequireRole(types.RoleViewer, HandleMe(app))).Methods(http.MethodGet)

	api.HandleFunc("/channels", auth.RequireRole(types.RoleUser, HandleCreateChannel(app))).Methods(http.MethodPost)
	api.HandleFunc("/channels/bulk", auth.RequireRole(types.RoleUser, HandleBulkCreateChannels(app))).Methods(http.MethodPost)
	api.HandleFunc("/channels/import", auth.RequireRole(types.RoleUser, HandleImportM3U(app))).Methods(http.MethodPost)
	api.HandleFunc("/channels", auth.RequireRole(types.RoleViewer, middleware.Gzip(HandleListChannels(app)))).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}", auth.RequireRole(types.RoleAdmin, HandleDeleteChannel(app))).Methods(http.MethodDelete)

	api.HandleFunc("/playlists", auth.RequireRole(types.RoleUser, HandleCreatePlaylist(app))).Methods(http.MethodPost)
	api.HandleFunc("/playlists", auth.RequireRole(types.RoleViewer, middleware.Gzip(HandleListPlaylists(app)))).Methods(http.MethodGet)

	api.HandleFunc("/access-codes", auth.RequireRole(types.RoleUser, HandleIssueAccessCode(app))).Methods(http.MethodPost)
	api.HandleFunc("/access-codes", auth.RequireRole(types.RoleUser, HandleListAccessCodes(app))).Methods(http.MethodGet)
	api.HandleFunc("/access-codes/{code}", auth.RequireRole(types.RoleUser, HandleDeactivateAccessCode(app))).Methods(http.MethodDelete)

	for _, fn := range extra {
		fn(api)
	}

	return router
}
