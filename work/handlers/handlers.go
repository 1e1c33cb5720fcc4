// Package handlers wires the services to HTTP. Player-facing routes answer in plain text;
// the management API answers in JSON.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"iptv-gate/work/accesscode"
	"iptv-gate/work/auth"
	"iptv-gate/work/catalog"
	"iptv-gate/work/database"
	"iptv-gate/work/logger"
	"iptv-gate/work/metrics"
	"iptv-gate/work/playlist"
	"iptv-gate/work/proxy"
	"iptv-gate/work/types"

	"github.com/gorilla/mux"
)

const mpegURLContentType = "application/vnd.apple.mpegurl"

// App bundles the services every handler closes over.
type App struct {
	Codes    *accesscode.Store
	Catalog  *catalog.Catalog
	Renderer *playlist.Renderer
	Gateway  *proxy.Gateway
	Auth     *auth.Service
	DB       *database.DB
}

// resolve redeems code and loads what the manifest needs. The use is counted before the
// playlist is loaded, so a code pointing at a since-removed playlist still spends a use.
func (app *App) resolve(ctx context.Context, code string) (*types.AccessCode, *types.Playlist, map[string]*types.Channel, error) {
	ac, err := app.Codes.ValidateAndConsume(ctx, code)
	if err != nil {
		return nil, nil, nil, err
	}

	p, err := app.Catalog.GetPlaylist(ctx, ac.PlaylistID)
	if err != nil {
		return nil, nil, nil, err
	}
	if p == nil {
		return nil, nil, nil, accesscode.ErrPlaylistNotFound
	}

	active, err := app.Catalog.ActiveChannels(ctx, p.ChannelIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	return ac, p, active, nil
}

// HandlePlaylistM3U8 redeems an access code and serves the extended M3U manifest.
func HandlePlaylistM3U8(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["accessCode"]

		ac, p, active, err := app.resolve(r.Context(), code)
		if err != nil {
			writePlayerError(w, err)
			return
		}

		body, err := app.Renderer.RenderM3U8(p, active, ac.CreatedBy)
		if err != nil {
			logger.Error("{handlers/handlers - HandlePlaylistM3U8} failed to render playlist %s: %v", p.ID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		metrics.ManifestsRendered.WithLabelValues("m3u8").Inc()

		w.Header().Set("Content-Type", mpegURLContentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Disposition", `inline; filename="playlist.m3u8"`)
		w.Write([]byte(body))
	}
}

// HandlePlaylistJSON redeems an access code and serves the manifest as JSON. It spends a use
// exactly like the M3U8 form.
func HandlePlaylistJSON(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["accessCode"]

		ac, p, active, err := app.resolve(r.Context(), code)
		if err != nil {
			writePlayerError(w, err)
			return
		}

		doc, err := app.Renderer.RenderJSON(p, active, ac.CreatedBy)
		if err != nil {
			logger.Error("{handlers/handlers - HandlePlaylistJSON} failed to render playlist %s: %v", p.ID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		metrics.ManifestsRendered.WithLabelValues("json").Inc()

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, doc)
	}
}

// HandleStreamProxy relays the origin bound into the token. The origin path segment reaches
// the gateway still percent-encoded.
func HandleStreamProxy(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		app.Gateway.Handle(w, r, vars["token"], vars["origin"])
	}
}

// HandleHealth reports whether the database answers.
func HandleHealth(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if app.DB != nil {
			if err := app.DB.Ping(r.Context()); err != nil {
				logger.Error("{handlers/handlers - HandleHealth} database ping failed: %v", err)
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{"status": status})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("{handlers/handlers - writeJSON} failed to encode response: %v", err)
	}
}
