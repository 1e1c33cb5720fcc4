package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"iptv-gate/work/auth"
	"iptv-gate/work/config"
	"iptv-gate/work/handlers"
	"iptv-gate/work/logger"
	"iptv-gate/work/types"
	"iptv-gate/work/utils"

	"github.com/gorilla/mux"
)

// adminStartTime is used for the uptime shown on the dashboard.
var adminStartTime = time.Now()

// StatsResponse is the admin dashboard payload.
type StatsResponse struct {
	types.Stats
	Uptime        string `json:"uptime"`
	MemoryUsage   string `json:"memory_usage"`
	WorkerThreads int    `json:"worker_threads"`
	CodeBackend   string `json:"access_code_backend"`
}

type roleRequest struct {
	Role types.Role `json:"role"`
}

// setupAdminRoutes registers the admin endpoints on the /api subrouter.
func setupAdminRoutes(api *mux.Router, app *handlers.App, cfg *config.Config) {
	api.HandleFunc("/admin/stats", corsMiddleware(auth.RequireRole(types.RoleAdmin, handleGetStats(app, cfg)))).Methods("GET", "OPTIONS")
	api.HandleFunc("/admin/users", corsMiddleware(auth.RequireRole(types.RoleAdmin, handleGetUsers(app)))).Methods("GET", "OPTIONS")
	api.HandleFunc("/admin/users/{id}/role", corsMiddleware(auth.RequireRole(types.RoleAdmin, handleSetUserRole(app)))).Methods("PUT", "OPTIONS")
}

// corsMiddleware lets a browser dashboard on another origin call the admin API.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// handleGetStats reports row counts from the database alongside live relay figures.
func handleGetStats(app *handlers.App, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		status := "healthy"

		counts, err := app.DB.Counts(r.Context(), now)
		if err != nil {
			logger.Error("{admin_handlers - handleGetStats} failed to read counts: %v", err)
			counts = map[string]int{}
			status = "degraded"
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		stats := StatsResponse{
			Stats: types.Stats{
				TotalUsers:        counts["users"],
				TotalChannels:     counts["channels"],
				ActiveChannels:    counts["active_channels"],
				TotalPlaylists:    counts["playlists"],
				ActiveAccessCodes: counts["active_access_codes"],
				ActiveRelays:      app.Gateway.ActiveRelays(),
				RelayedBytes:      utils.FormatBytes(app.Gateway.RelayedBytes()),
				ServerStatus:      status,
				GeneratedAt:       now.UTC(),
			},
			Uptime:        formatDuration(time.Since(adminStartTime)),
			MemoryUsage:   utils.FormatBytes(int64(m.Alloc)),
			WorkerThreads: cfg.WorkerThreads,
			CodeBackend:   cfg.AccessCodeBackend,
		}

		handlers.WriteJSON(w, http.StatusOK, stats)
	}
}

func handleGetUsers(app *handlers.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := app.Auth.ListUsers(r.Context(), *auth.FromContext(r.Context()))
		if err != nil {
			handlers.WriteAPIError(w, err)
			return
		}
		if users == nil {
			users = []*types.User{}
		}
		handlers.WriteJSON(w, http.StatusOK, users)
	}
}

func handleSetUserRole(app *handlers.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req roleRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			handlers.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
			return
		}

		id := mux.Vars(r)["id"]
		if err := app.Auth.UpdateRole(r.Context(), *auth.FromContext(r.Context()), id, req.Role); err != nil {
			handlers.WriteAPIError(w, err)
			return
		}
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Role updated to %s", req.Role)})
	}
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
