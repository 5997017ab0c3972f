package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/channel27tech/clubmaster-sub003/internal/config"
	"github.com/channel27tech/clubmaster-sub003/internal/clock"
	"github.com/channel27tech/clubmaster-sub003/internal/gamerepo"
	"github.com/channel27tech/clubmaster-sub003/internal/gateway"
	"github.com/channel27tech/clubmaster-sub003/internal/notify"
	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/internal/presence"
	"github.com/channel27tech/clubmaster-sub003/internal/rating"
	"github.com/channel27tech/clubmaster-sub003/internal/session"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	if cfg.TimeControlFile != "" {
		if err := clock.LoadCatalogFile(cfg.TimeControlFile); err != nil {
			log.Fatalf("time control catalog error: %v", err)
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping error: %v", err)
	}

	hub := gateway.NewHub()
	clocks := clock.NewService(cfg.ClockTickInterval)
	ratings := rating.NewStore(rdb)
	manager := session.NewManager(clocks, ratings, hub, cfg.DefaultTimeControl, cfg.FinalLinger)

	var repo *gamerepo.Repository
	if cfg.DatabaseURL != "" {
		repo, err = gamerepo.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("repository init error: %v", err)
		}
		manager.AttachRepository(repo)
	}
	manager.AttachNotifier(notify.NewClient(cfg.NotifyBaseURL))

	clocks.SetHooks(
		func(snap clock.Snapshot) {
			hub.Broadcast(snap.GameID, gamewire.NewEnvelope(gamewire.TypeClockUpdate, &gamewire.ClockUpdate{
				GameID:     snap.GameID,
				WhiteMs:    snap.WhiteMs,
				BlackMs:    snap.BlackMs,
				SideToMove: string(snap.SideToMove),
				Running:    snap.Running,
			}))
		},
		manager.HandleClockExpiry,
	)

	coord := presence.NewCoordinator(clocks, manager, hub, cfg.ReconnectCeiling)
	manager.SetEvictHook(func(gameID string) {
		coord.DropGame(gameID)
		hub.CloseRoom(gameID)
	})

	ws := gateway.NewServer(hub, manager, coord, gateway.HeaderIdentity("X-Player-Id"))

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			GameID      string `json:"gameId"`
			WhiteID     string `json:"whiteId"`
			BlackID     string `json:"blackId"`
			TimeControl string `json:"timeControl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
		game, err := manager.CreateGame(req.GameID, req.WhiteID, req.BlackID, req.TimeControl)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(game)
	})
	mux.HandleFunc("/games/result", func(w http.ResponseWriter, r *http.Request) {
		fin, ok := manager.Result(r.URL.Query().Get("gameId"))
		if !ok {
			http.Error(w, "no result", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fin)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	manager.Close()
	if repo != nil {
		_ = repo.Close()
	}
	_ = rdb.Close()
}

func httpStatus(err error) int {
	switch {
	case gamewire.HasCode(err, gamewire.CodeNotFound):
		return http.StatusNotFound
	case gamewire.HasCode(err, gamewire.CodeValidationFailure):
		return http.StatusBadRequest
	case gamewire.HasCode(err, gamewire.CodeInvalidState), gamewire.HasCode(err, gamewire.CodeAlreadyTerminated):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
