// Package api is the read-only HTTP surface: stock quotes, histories, the
// leaderboard, Prometheus metrics, and a WebSocket price stream. It carries
// no auth; identity lives with the chat platform, not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"galactic/internal/cache"
	"galactic/internal/config"
	"galactic/internal/ledger"
	"galactic/internal/metrics"
)

type Server struct {
	cfg   config.Config
	log   *slog.Logger
	store ledger.Store
	cache *cache.Cache
	hub   *Hub
	mux   *chi.Mux
}

func New(cfg config.Config, logger *slog.Logger, store ledger.Store, c *cache.Cache, hub *Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		store: store,
		cache: c,
		hub:   hub,
		mux:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(func(next http.Handler) http.Handler { return metrics.Middleware(next) })

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stocks", s.handleStocks)
		r.Get("/stocks/{symbol}/history", s.handleStockHistory)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/users/{id}/portfolio", s.handlePortfolio)
		r.Get("/stream", s.hub.HandleWS)
	})
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	const key = "api:stocks"
	if body, ok := s.cache.Get(r.Context(), key); ok {
		writeJSONRaw(w, http.StatusOK, body)
		return
	}
	quotes, err := s.store.AllStocks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body, err := json.Marshal(map[string]any{"stocks": quotes})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cache.Set(r.Context(), key, string(body))
	writeJSONRaw(w, http.StatusOK, string(body))
}

func (s *Server) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	hist, err := s.store.StockHistory(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, ledger.ErrNoHistory) {
			writeError(w, http.StatusNotFound, "no price history for "+symbol)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "history": hist})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const key = "api:leaderboard"
	if body, ok := s.cache.Get(r.Context(), key); ok {
		writeJSONRaw(w, http.StatusOK, body)
		return
	}
	rows, err := s.store.Leaderboard(r.Context(), 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body, err := json.Marshal(map[string]any{"leaderboard": rows})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cache.Set(r.Context(), key, string(body))
	writeJSONRaw(w, http.StatusOK, string(body))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user id must be an integer")
		return
	}
	snap, err := s.store.Portfolio(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownUser) {
			writeError(w, http.StatusNotFound, "unknown user")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// WatchPrices polls the ledger and broadcasts any price change to the stream
// hub (and the price cache). The API process does not tick the market itself;
// the bot process owns the price loop.
func (s *Server) WatchPrices(ctx context.Context, every time.Duration) {
	last := make(map[string]float64)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			quotes, err := s.store.AllStocks(ctx)
			if err != nil {
				s.log.Error("price poll failed", "err", err)
				continue
			}
			for _, q := range quotes {
				if prev, ok := last[q.Symbol]; ok && prev == q.Price {
					continue
				}
				last[q.Symbol] = q.Price
				s.cache.SetLatestPrice(ctx, q.Symbol, q.Price)
				s.hub.Broadcast(PriceEvent{
					Symbol: q.Symbol,
					Price:  q.Price,
					At:     time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
