package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/api"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/config"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/db"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/events"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/serialmux"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/timeutil"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/tracker"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/version"
)

var (
	port        = flag.String("port", "/dev/ttyACM0", "Serial port of the PDOA node (empty runs without a node)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	dbPath      = flag.String("db", "uwb_tracker.db", "SQLite database path (empty disables persistence)")
	configPath  = flag.String("config", "", "Tracker tuning JSON file (defaults apply when empty)")
	devMode     = flag.Bool("dev", false, "Replay -fixture instead of opening -port")
	fixturePath = flag.String("fixture", "fixtures/pdoa-node.jsonl", "Payload fixture replayed in dev mode")
	natsURL     = flag.String("nats-url", "", "Publish events to this NATS server (disabled when empty)")
	reconnect   = flag.Duration("reconnect", 5*time.Second, "Delay before reopening a lost serial link (0 exits instead)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) (*config.TrackerConfig, error) {
	if path == "" {
		return config.EmptyTrackerConfig(), nil
	}
	return config.LoadTrackerConfig(path)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("tracker %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	open, err := newOpener(linkOptions{
		dev:     *devMode,
		fixture: *fixturePath,
		port:    *port,
		baud:    *baud,
	}, serialmux.NewRealSerialPortFactory())
	if err != nil {
		log.Fatalf("failed to prepare serial link: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	opts := tracker.Options{Clock: timeutil.RealClock{}, Metrics: metrics}

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
		if v, dirty, err := store.MigrateVersion(); err == nil {
			log.Printf("database %s at schema version %d (dirty=%v)", *dbPath, v, dirty)
		}
		opts.Store = store
	}

	tr, err := tracker.New(tracker.ConfigFrom(tuning), opts)
	if err != nil {
		log.Fatalf("failed to create tracker: %v", err)
	}
	defer tr.Bus().Close()

	if *natsURL != "" {
		nc, err := events.ConnectNATS(*natsURL, "uwb-tracker")
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		tr.Bus().AddSink(events.NewNATSSink(nc, ""))
		log.Printf("publishing events to %s", *natsURL)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// tracker clock: polls and idle checks
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tr.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("tracker stopped: %v", err)
		}
		log.Print("tracker routine terminated")
	}()

	sw := &serialmux.Switch{}

	// serial link supervisor
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runLink(ctx, tr, open, sw, timeutil.RealClock{}, *reconnect); err != nil {
			log.Printf("serial link stopped: %v", err)
			stop()
		}
		log.Print("link routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(tr, store, reg).ServeMux()
		sw.AttachAdminRoutes(mux)
		if store != nil {
			store.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
