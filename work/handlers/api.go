package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"iptv-gate/work/accesscode"
	"iptv-gate/work/auth"
	"iptv-gate/work/catalog"
	"iptv-gate/work/filter"
	"iptv-gate/work/types"

	"github.com/gorilla/mux"
)

const (
	maxJSONBody = 1 << 20
	maxM3UBody  = 8 << 20
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid JSON body")
		return false
	}
	return true
}

// caller returns the authenticated identity. Only valid behind auth.RequireRole.
func caller(r *http.Request) types.Identity {
	if id := auth.FromContext(r.Context()); id != nil {
		return *id
	}
	return types.Identity{}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func HandleRegister(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.RegisterRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		u, err := app.Auth.Register(r.Context(), auth.FromContext(r.Context()), req)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

func HandleLogin(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sess, err := app.Auth.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func HandleMe(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := app.Auth.Me(r.Context(), auth.FromContext(r.Context()))
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func HandleCreateChannel(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in catalog.ChannelInput
		if !decodeJSON(w, r, &in) {
			return
		}
		ch, err := app.Catalog.CreateChannel(r.Context(), caller(r), in)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ch)
	}
}

// HandleBulkCreateChannels accepts a JSON array of channels. Entries fail independently.
func HandleBulkCreateChannels(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var inputs []catalog.ChannelInput
		if !decodeJSON(w, r, &inputs) {
			return
		}
		res, err := app.Catalog.BulkCreateChannels(r.Context(), caller(r), inputs)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// HandleImportM3U creates channels from an M3U document in the request body. Optional include
// and exclude query parameters are regular expressions matched against lower-cased names.
func HandleImportM3U(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f, err := filter.Compile(q.Get("include"), q.Get("exclude"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		body := http.MaxBytesReader(w, r.Body, maxM3UBody)
		res, err := app.Catalog.ImportM3U(r.Context(), caller(r), body, f)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func HandleListChannels(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cf := types.ChannelFilter{
			Category:   types.Category(q.Get("category")),
			Country:    strings.ToUpper(q.Get("country")),
			ActiveOnly: true,
		}
		channels, err := app.Catalog.ListChannels(r.Context(), cf)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, channels)
	}
}

func HandleDeleteChannel(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.Catalog.DeactivateChannel(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Channel deactivated"})
	}
}

func HandleCreatePlaylist(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in catalog.PlaylistInput
		if !decodeJSON(w, r, &in) {
			return
		}
		p, err := app.Catalog.CreatePlaylist(r.Context(), caller(r), in)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func HandleListPlaylists(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playlists, err := app.Catalog.ListPlaylists(r.Context(), caller(r))
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, playlists)
	}
}

func HandleIssueAccessCode(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req accesscode.IssueRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ac, err := app.Codes.Issue(r.Context(), caller(r), req)
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ac)
	}
}

func HandleListAccessCodes(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codes, err := app.Codes.List(r.Context(), caller(r))
		if err != nil {
			WriteAPIError(w, err)
			return
		}
		if codes == nil {
			codes = []*types.AccessCode{}
		}
		writeJSON(w, http.StatusOK, codes)
	}
}

func HandleDeactivateAccessCode(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.Codes.Deactivate(r.Context(), caller(r), mux.Vars(r)["code"]); err != nil {
			WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Access code deactivated"})
	}
}
