// Command client is the reconciliation client for the batch job API.
// It submits jobs, polls them into a durable local mirror, and can
// resume polling after a restart.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/sweep/internal/clients/batchapi"
	"github.com/aristath/sweep/internal/config"
	"github.com/aristath/sweep/internal/database"
	"github.com/aristath/sweep/internal/mirror"
	"github.com/aristath/sweep/internal/scheduler"
	"github.com/aristath/sweep/pkg/logger"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8001", "batch job API base URL")
	dataDir := flag.String("data-dir", "", "local mirror directory (default: SWEEP_DATA_DIR)")
	interval := flag.Duration("interval", 2*time.Second, "polling interval")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "retention for mirrored jobs")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel, Pretty: true})

	if *dataDir == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
		*dataDir = cfg.DataDir
	}

	// Durable client-side mirror, rebuildable from the server
	clientDB, err := database.New(database.Config{
		Path:    filepath.Join(*dataDir, "client.db"),
		Profile: database.ProfileCache,
		Name:    "client",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open client database")
	}
	defer clientDB.Close()

	store := mirror.NewStore(clientDB.Conn(), log)
	if err := store.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize mirror schema")
	}

	api := batchapi.NewClient(*serverURL, log)
	poller := mirror.NewPoller(api, store, *interval, log)
	defer poller.Close()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	switch args[0] {
	case "create":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		body, err := os.ReadFile(args[1])
		if err != nil {
			log.Fatal().Err(err).Str("file", args[1]).Msg("Failed to read job file")
		}

		snapshot, err := api.CreateJob(ctx, body)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create job")
		}
		if err := store.Put(mirror.Merge(nil, snapshot)); err != nil {
			log.Fatal().Err(err).Msg("Failed to persist mirror record")
		}

		log.Info().Str("job_id", snapshot.ID).Msg("Job created, polling until terminal")
		poller.Watch(snapshot.ID)
		waitUntilTerminal(store, snapshot.ID)
		printRecord(store, snapshot.ID)

	case "watch":
		// Resume every active mirrored job, plus any ids given
		if err := poller.Resume(); err != nil {
			log.Fatal().Err(err).Msg("Failed to resume polling")
		}
		for _, id := range args[1:] {
			poller.Watch(id)
		}

		sched := scheduler.New(log)
		if err := sched.AddJob("0 0 * * * *", mirror.NewCleanupJob(store, *ttl, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule mirror cleanup")
		}
		sched.Start()
		defer sched.Stop()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

	case "cancel":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := api.CancelJob(ctx, args[1]); err != nil {
			log.Fatal().Err(err).Str("job_id", args[1]).Msg("Failed to cancel job")
		}
		log.Info().Str("job_id", args[1]).Msg("Cancellation requested")

	case "list":
		records, err := store.List()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list mirror records")
		}
		for _, record := range records {
			fmt.Printf("%-36s  %-9s  %4d/%-4d  %s\n",
				record.ID, record.Status, record.Completed, record.Total, record.Name)
		}

	case "show":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		printRecord(store, args[1])

	default:
		usage()
		os.Exit(2)
	}
}

func waitUntilTerminal(store *mirror.Store, jobID string) {
	for {
		record, err := store.Get(jobID)
		if err == nil && record != nil && !record.Active() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func printRecord(store *mirror.Store, jobID string) {
	record, err := store.Get(jobID)
	if err != nil || record == nil {
		fmt.Fprintf(os.Stderr, "job %s not in local mirror\n", jobID)
		os.Exit(1)
	}

	fmt.Printf("Job:       %s (%s)\n", record.ID, record.Name)
	fmt.Printf("Status:    %s\n", record.Status)
	fmt.Printf("Progress:  %d/%d\n", record.Completed, record.Total)
	if record.Truncated {
		fmt.Println("Truncated: yes")
	}
	if record.DurationMs > 0 {
		fmt.Printf("Duration:  %s\n", time.Duration(record.DurationMs)*time.Millisecond)
	}
	if record.HasSummary {
		fmt.Printf("Returns:   best %.4f / worst %.4f / avg %.4f\n", record.Best, record.Worst, record.Avg)
	}
	if record.Error != "" {
		fmt.Printf("Error:     %s\n", record.Error)
	}
	if record.CSVRef != "" {
		fmt.Printf("CSV:       %s\n", record.CSVRef)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  client [flags] create <job.json>   submit a job and poll it to completion
  client [flags] watch [jobId...]    resume polling all active mirrored jobs
  client [flags] cancel <jobId>      request cancellation
  client [flags] list                list mirrored jobs
  client [flags] show <jobId>        print one mirrored job`)
}
