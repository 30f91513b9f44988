package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/commander"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/config"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/db"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/handlers"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/registry"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/scheduler"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/server"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/services"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/watchdog"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting Laundry Robot Control Server...")

	// Initialize database
	log.Printf("Initializing database at %s...", cfg.DatabasePath)
	database, err := db.NewDB(db.Config{
		DatabasePath:   cfg.DatabasePath,
		MigrationsPath: cfg.MigrationsPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Run migrations
	log.Printf("Running database migrations...")
	if err := db.RunMigrations(db.Config{
		DatabasePath:   cfg.DatabasePath,
		MigrationsPath: cfg.MigrationsPath,
	}); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create store with repositories
	store := db.NewStore(database)
	log.Printf("Database initialized successfully")

	// Create robot registry with checkpoint write-through
	robotRegistry := registry.NewRobotRegistry(registry.Config{
		OfflineAfter: cfg.OfflineAfter,
		Checkpoints:  store.RobotStateRepo,
	})

	// Seed best-effort recovery context from the last checkpoints. The
	// registry itself rebuilds from live heartbeats.
	if states, err := store.RobotStateRepo.GetAllRobotStates(); err != nil {
		log.Printf("Warning: could not load robot checkpoints: %v", err)
	} else {
		robotRegistry.SeedRecovery(states)
	}

	// Commander for fire-and-forget robot actuation
	robotCommander := commander.NewCommander(commander.Config{
		RobotPort: cfg.RobotCommandPort,
	})

	// Request lifecycle service
	lifecycle := services.NewRequestService(services.RequestServiceConfig{
		RequestRepo:  store.RequestRepo,
		SettingsRepo: store.SettingsRepo,
		Fleet:        robotRegistry,
		Commander:    robotCommander,
		BaseRoomName: cfg.BaseRoomName,
	})

	// Scheduler, wired as a registry observer so an idle robot drives the
	// pending queue
	dispatchScheduler := scheduler.NewScheduler(scheduler.Config{
		RequestRepo:  store.RequestRepo,
		SettingsRepo: store.SettingsRepo,
		Fleet:        robotRegistry,
		Commander:    robotCommander,
	})
	robotRegistry.Subscribe(dispatchScheduler)
	robotRegistry.Subscribe(&loggingObserver{})

	// One queue pass at startup; after that, idle events drive it.
	go dispatchScheduler.ProcessNextPending()

	// Background watchdogs
	watchdogs, err := watchdog.NewRunner()
	if err != nil {
		log.Fatalf("Failed to create watchdog runner: %v", err)
	}

	arrivalTimeout := watchdog.NewArrivalTimeout(store.RequestRepo, store.SettingsRepo, lifecycle)
	if err := watchdogs.Add("arrival-timeout", watchdog.ArrivalTimeoutInterval, watchdog.StartupGraceDelay, arrivalTimeout.Sweep); err != nil {
		log.Fatalf("Failed to schedule arrival timeout watchdog: %v", err)
	}

	orphanSweeper := watchdog.NewOrphanSweeper(store.RequestRepo, robotRegistry, lifecycle)
	if err := watchdogs.Add("orphan-sweeper", watchdog.OrphanSweepInterval, watchdog.StartupGraceDelay, orphanSweeper.Sweep); err != nil {
		log.Fatalf("Failed to schedule orphan sweeper: %v", err)
	}

	watchdogs.Start()

	// HTTP server
	robotHandler := handlers.NewRobotHandler(robotRegistry, robotCommander, lifecycle, store.RobotStateRepo)
	requestHandler := handlers.NewRequestHandler(dispatchScheduler, lifecycle)
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		RobotHandler:   robotHandler,
		RequestHandler: requestHandler,
		Port:           cfg.HTTPPort,
	})

	// Start HTTP server in goroutine
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Printf("Received shutdown signal, stopping servers...")

	if err := httpServer.Shutdown(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if err := watchdogs.Stop(); err != nil {
		log.Printf("Error stopping watchdogs: %v", err)
	}

	log.Printf("Servers stopped gracefully")
}

// loggingObserver logs robot status changes
type loggingObserver struct{}

func (o *loggingObserver) OnEvent(event models.RobotStatusChangedEvent) {
	log.Printf("Robot status change: %s (%s -> %s)",
		event.RobotName, event.PreviousStatus, event.CurrentStatus)
}
