package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"kmedia-resolver/work/config"
	"kmedia-resolver/work/livestream"
	"kmedia-resolver/work/middleware"
	"kmedia-resolver/work/refresh"
	"kmedia-resolver/work/registry"
	"kmedia-resolver/work/utils"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// StatsResponse carries the operational snapshot exposed through the admin
// API: session pressure, provider inventory, and process health.
type StatsResponse struct {
	OpenSessions  int      `json:"openSessions"`
	Providers     []string `json:"providers"`
	Uptime        string   `json:"uptime"`
	MemoryUsage   string   `json:"memoryUsage"`
	WorkerThreads int      `json:"workerThreads"`
	CacheEnabled  bool     `json:"cacheEnabled"`
	Version       string   `json:"version"`
}

// SessionResponse describes one open live stream session for the admin
// session listing.
type SessionResponse struct {
	ID          string `json:"id"`
	SourceName  string `json:"sourceName"`
	Path        string `json:"path,omitempty"`
	Container   string `json:"container,omitempty"`
	Bitrate     int64  `json:"bitrate,omitempty"`
	EnableProbe bool   `json:"enableProbe"`
}

// adminStartTime records process start for uptime reporting.
var adminStartTime = time.Now()

// setupAdminRoutes mounts the admin API. A configured bcrypt token hash
// gates every route; an empty hash leaves the admin API open, matching a
// trusted-network deployment.
func setupAdminRoutes(router *mux.Router, cfg *config.Config, providers *registry.Registry,
	sessions *livestream.Registry, refresher *refresh.Refresher) {

	guard := adminAuth(cfg.AdminTokenHash)

	router.HandleFunc("/admin/stats", guard(middleware.Gzip(handleAdminStats(cfg, providers, sessions)))).Methods("GET")
	router.HandleFunc("/admin/sessions", guard(middleware.Gzip(handleAdminSessions(cfg, sessions)))).Methods("GET")
	router.HandleFunc("/admin/sessions/{id}/close", guard(handleAdminCloseSession(sessions))).Methods("POST")
	router.HandleFunc("/admin/items/{item}/refresh", guard(handleAdminRefreshItem(refresher))).Methods("POST")
}

// adminAuth builds the bearer-token middleware for the given bcrypt hash.
func adminAuth(tokenHash string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next(w, r)
				return
			}
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
}

func handleAdminStats(cfg *config.Config, providers *registry.Registry, sessions *livestream.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		names := make([]string, 0, providers.Count())
		for _, p := range providers.Providers() {
			names = append(names, p.Name())
		}

		stats := StatsResponse{
			OpenSessions:  sessions.Count(),
			Providers:     names,
			Uptime:        formatDuration(time.Since(adminStartTime)),
			MemoryUsage:   utils.FormatBytes(int64(mem.Alloc)),
			WorkerThreads: cfg.WorkerThreads,
			CacheEnabled:  cfg.CacheEnabled,
			Version:       Version,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleAdminSessions(cfg *config.Config, sessions *livestream.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		open := sessions.Sessions()
		out := make([]SessionResponse, 0, len(open))
		for _, s := range open {
			out = append(out, SessionResponse{
				ID:          s.ID,
				SourceName:  s.MediaSource.Name,
				Path:        utils.LogURL(cfg.ObfuscateUrls, s.MediaSource.Path),
				Container:   s.MediaSource.Container,
				Bitrate:     s.MediaSource.Bitrate,
				EnableProbe: s.EnableProbe,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleAdminCloseSession(sessions *livestream.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.CloseLiveStream(r.Context(), mux.Vars(r)["id"])
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAdminRefreshItem(refresher *refresh.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := mux.Vars(r)["item"]
		opts := refresh.Options{
			FullRefresh: r.URL.Query().Get("full") == "true",
			RemoteProbe: r.URL.Query().Get("remote") == "true",
		}
		if err := refresher.Refresh(r.Context(), itemID, opts); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// formatDuration renders an uptime as "2d 3h 45m".
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
