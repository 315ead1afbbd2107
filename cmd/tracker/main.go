// Package main provides the tracker binary that runs an interactive
// initiative-tracking session for a single encounter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/tracker/internal/config"
	"github.com/cory-johannsen/tracker/internal/frontend/console"
	"github.com/cory-johannsen/tracker/internal/game/condition"
	"github.com/cory-johannsen/tracker/internal/game/dice"
	"github.com/cory-johannsen/tracker/internal/observability"
	"github.com/cory-johannsen/tracker/internal/scripting"
	"github.com/cory-johannsen/tracker/internal/server"
	"github.com/cory-johannsen/tracker/internal/service"
	"github.com/cory-johannsen/tracker/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	encounterID := flag.String("encounter", "", "id of the encounter to load")
	newName := flag.String("new", "", "create a new encounter with this name and load it")
	listEncounters := flag.Bool("list", false, "list stored encounters and exit")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	actorRepo := postgres.NewActorRepository(pool.DB())
	encounterRepo := postgres.NewEncounterRepository(pool.DB())
	attachmentRepo := postgres.NewAttachmentRepository(pool.DB())

	if *listEncounters {
		records, err := encounterRepo.List(ctx)
		if err != nil {
			logger.Fatal("listing encounters", zap.Error(err))
		}
		for _, rec := range records {
			fmt.Printf("%s  round %d  %s\n", rec.ID, rec.Round, rec.Name)
		}
		return
	}

	// Load condition definitions
	condStart := time.Now()
	catalog, err := condition.LoadDirectory(cfg.Content.ConditionsDir)
	if err != nil {
		logger.Fatal("loading condition definitions", zap.Error(err))
	}
	logger.Info("loaded condition definitions",
		zap.Int("count", len(catalog.All())),
		zap.Duration("elapsed", time.Since(condStart)),
	)

	// Load condition hook scripts. An empty scripts_dir disables scripting.
	var scripts *scripting.Manager
	if cfg.Content.ScriptsDir != "" {
		scripts = scripting.NewManager(logger)
		defer scripts.Close()
		scripts.Narrate = func(msg string) {
			fmt.Println(msg)
		}
		if err := scripts.LoadDirectory(cfg.Content.ScriptsDir, cfg.Content.ScriptInstructionLimit); err != nil {
			logger.Fatal("loading condition scripts", zap.Error(err))
		}
	}

	src := dice.NewLoggedSource(dice.NewCryptoSource(), logger)

	svc := service.NewEncounterService(
		encounterRepo, actorRepo, attachmentRepo,
		catalog, scripts, src, logger, cfg.Encounter.SaveTimeout,
	)

	id := *encounterID
	if *newName != "" {
		rec, err := encounterRepo.Create(ctx, *newName)
		if err != nil {
			logger.Fatal("creating encounter", zap.Error(err))
		}
		logger.Info("encounter created",
			zap.String("id", rec.ID),
			zap.String("name", rec.Name),
		)
		id = rec.ID
	}
	if id == "" {
		logger.Fatal("no encounter selected; pass -encounter <id> or -new <name>")
	}

	if err := svc.Load(ctx, id); err != nil {
		logger.Fatal("loading encounter", zap.Error(err))
	}
	logger.Info("encounter loaded",
		zap.String("id", id),
		zap.Duration("startup", time.Since(start)),
	)

	session := console.New(svc, actorRepo, catalog, os.Stdin, os.Stdout, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("console", session)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("session ended with error", zap.Error(err))
		os.Exit(1)
	}
}
