// Package main provides the game server binary: the WebSocket session
// gateway, the read-only HTTP query routes, and a gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/sus/internal/config"
	"github.com/cory-johannsen/sus/internal/frontend/handlers"
	"github.com/cory-johannsen/sus/internal/frontend/websocket"
	"github.com/cory-johannsen/sus/internal/game/player"
	"github.com/cory-johannsen/sus/internal/game/rng"
	"github.com/cory-johannsen/sus/internal/game/room"
	"github.com/cory-johannsen/sus/internal/game/world"
	"github.com/cory-johannsen/sus/internal/gameserver"
	"github.com/cory-johannsen/sus/internal/observability"
	"github.com/cory-johannsen/sus/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	mapFile := flag.String("map", "", "path to a map YAML file; overrides gameserver.map_file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *mapFile != "" {
		cfg.GameServer.MapFile = *mapFile
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("grpc_addr", cfg.GameServer.Addr()),
	)

	gameMap, err := world.Load(cfg.GameServer.MapFile)
	if err != nil {
		logger.Fatal("loading map", zap.String("path", cfg.GameServer.MapFile), zap.Error(err))
	}
	logger.Info("map loaded",
		zap.String("map", gameMap.ID),
		zap.Float64("spawn_x", gameMap.Spawn.X),
		zap.Float64("spawn_y", gameMap.Spawn.Y),
	)

	players := player.NewRegistry(gameMap.Spawn)
	rooms := room.NewRegistry(players, rng.NewCryptoSource())
	gateway := gameserver.NewGateway(players, rooms, gameserver.Options{
		MeetingDuration: cfg.GameServer.MeetingDuration,
		MinPlayers:      cfg.GameServer.MinPlayers,
	}, logger)

	acceptor := websocket.NewAcceptor(cfg.WebSocket, gateway, logger)
	handlers.NewQuery(players, rooms, logger).Register(acceptor)

	health := server.NewHealthService(cfg.GameServer.Addr(), logger)

	lifecycle := server.NewLifecycle(logger, cfg.GameServer.ShutdownTimeout)

	lifecycle.Add("health", health)

	meetingsDone := make(chan struct{})
	lifecycle.Add("meetings", &server.FuncService{
		StartFn: func() error {
			<-meetingsDone
			return nil
		},
		StopFn: func(context.Context) error {
			gateway.Shutdown()
			close(meetingsDone)
			return nil
		},
	})

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn: func(ctx context.Context) error {
			health.SetServing(false)
			return acceptor.Stop(ctx)
		},
	})

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
