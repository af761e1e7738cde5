package main

import (
	"encoding/json"
	"errors"
	stdlog "log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"dobutsu/internal/config"
	"dobutsu/internal/kif"
	"dobutsu/internal/relay"
	"dobutsu/internal/storage"
)

const (
	defaultGamesLimit = 20
	maxGamesLimit     = 100
)

type api struct {
	store *storage.Store
	log   zerolog.Logger
	now   func() time.Time
}

func newAPI(store *storage.Store, logger zerolog.Logger) *api {
	return &api{store: store, log: logger.With().Str("component", "api").Logger(), now: time.Now}
}

func newRouter(hub *relay.Hub, a *api, staticDir string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  stdlog.New(logger.With().Str("component", "http").Logger(), "", 0),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/ws", hub.ServeWS)
	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})
		r.Get("/rankings", a.rankings)
		r.Get("/games", a.listGames)
		r.Get("/games/{id}", a.getGame)
		r.Get("/games/{id}/kif", a.getKIF)
	})
	r.Handle("/*", noCacheMiddleware(http.FileServer(http.Dir(staticDir))))
	return r
}

// noCacheMiddleware keeps browsers from holding on to stale scripts and styles.
func noCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".js") || strings.HasSuffix(r.URL.Path, ".css") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		}
		next.ServeHTTP(w, r)
	})
}

func (a *api) rankings(w http.ResponseWriter, r *http.Request) {
	rk, err := a.store.Rankings(r.Context(), a.now())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rk)
}

func (a *api) listGames(w http.ResponseWriter, r *http.Request) {
	limit := defaultGamesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = config.Clamp(n, 1, maxGamesLimit)
	}
	games, err := a.store.RecentMatches(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if games == nil {
		games = []storage.Match{}
	}
	writeJSON(w, http.StatusOK, games)
}

func (a *api) getGame(w http.ResponseWriter, r *http.Request) {
	m, err := a.store.Match(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// getKIF serves the stored record as a KIF download; ?encoding=sjis gives
// the Shift_JIS bytes older viewers expect.
func (a *api) getKIF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := a.store.Match(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body, charset := []byte(m.KIF), "utf-8"
	switch strings.ToLower(r.URL.Query().Get("encoding")) {
	case "", "utf-8", "utf8":
	case "sjis", "shift_jis":
		if body, err = kif.EncodeShiftJIS(m.KIF); err != nil {
			a.fail(w, r, err)
			return
		}
		charset = "Shift_JIS"
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown encoding"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset="+charset)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.kif"`)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	a.log.Error().Err(err).Str("path", r.URL.Path).Str("request", middleware.GetReqID(r.Context())).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
