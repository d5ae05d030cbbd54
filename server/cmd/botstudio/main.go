package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"botstudio/server/internal/api"
	"botstudio/server/internal/auth"
	"botstudio/server/internal/config"
	"botstudio/server/internal/notifier"
	"botstudio/server/internal/orchestrator"
	"botstudio/server/internal/project"
	"botstudio/server/internal/query"
	"botstudio/server/internal/response"
	"botstudio/server/internal/sqlitedb"
)

func main() {
	configPath := flag.String("config", "", "config file path (empty = built-in defaults)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	projects, store, err := openStores(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}

	// 广播总线由组装根持有，生命周期跟随进程，注入编排器与 API 层。
	bus := notifier.New()

	var gate auth.Gate = auth.AllowAll{}
	var jwtGate *auth.JWTGate
	if cfg.Auth.Mode == "jwt" {
		jwtGate = auth.NewJWTGate(cfg.Auth.JWTSecret)
		gate = jwtGate
	}

	orch := orchestrator.New(store, projects, bus, gate)
	queries := query.New(store, projects, gate)
	server := api.NewServer(cfg, queries, orch, bus, gate, jwtGate)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("botstudio server listening on %s (storage=%s auth=%s)", cfg.Server.Addr(), cfg.Storage.Backend, cfg.Auth.Mode)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

// openStores 按配置选择存储后端。
func openStores(cfg *config.Config) (project.Store, response.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := sqlitedb.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		projects := project.NewSQLiteStore(db)
		return projects, response.NewSQLiteStore(db, projects), nil

	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// 项目记录量级很小，不值得再铺一套 Mongo 流程，先落内存；
		// TODO: 项目记录也落 Mongo，启动时从集合恢复。
		projects := project.NewInMemoryStore()
		store, err := response.OpenMongo(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase, projects)
		if err != nil {
			return nil, nil, err
		}
		return projects, store, nil

	default:
		projects := project.NewInMemoryStore()
		return projects, response.NewInMemoryStore(projects), nil
	}
}
