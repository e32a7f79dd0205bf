package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/sweep/internal/clients/evaluator"
	"github.com/aristath/sweep/internal/config"
	"github.com/aristath/sweep/internal/database"
	"github.com/aristath/sweep/internal/events"
	"github.com/aristath/sweep/internal/modules/batch"
	"github.com/aristath/sweep/internal/scheduler"
	"github.com/aristath/sweep/internal/server"
	"github.com/aristath/sweep/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting batch backtest service")

	// Durable job and result storage
	jobsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "jobs.db"),
		Profile: database.ProfileStandard,
		Name:    "jobs",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open jobs database")
	}
	defer jobsDB.Close()

	batchRepo := batch.NewRepository(jobsDB.Conn(), log)
	if err := batchRepo.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize batch schema")
	}

	eventManager := events.NewManager(log)
	evaluatorClient := evaluator.NewClient(cfg.EvaluatorServiceURL, log)

	orchestrator := batch.NewOrchestrator(batchRepo, evaluatorClient, eventManager, cfg.JobWorkers, cfg.AssignmentCap, log)

	// Jobs left queued or running by a previous process are failed;
	// their partial results stay retrievable
	if err := orchestrator.RecoverInterrupted(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover interrupted jobs")
	}

	// Background maintenance
	sched := scheduler.New(log)
	ttl := time.Duration(cfg.JobTTLDays) * 24 * time.Hour
	if err := sched.AddJob("0 0 3 * * *", batch.NewCleanupJob(batchRepo, ttl, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cleanup job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:             log,
		Cfg:             cfg,
		JobsDB:          jobsDB,
		Orchestrator:    orchestrator,
		BatchRepo:       batchRepo,
		EvaluatorClient: evaluatorClient,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flag active jobs as cancelled and let in-flight runs drain
	if err := orchestrator.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Orchestrator shutdown timed out")
	}

	if err := jobsDB.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}

	log.Info().Msg("Server stopped")
}
