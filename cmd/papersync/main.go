package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/papersync/internal/httpapi"
	"github.com/agentworkforce/papersync/internal/logging"
	"github.com/agentworkforce/papersync/internal/notion"
	"github.com/agentworkforce/papersync/internal/paperless"
	"github.com/agentworkforce/papersync/internal/syncer"
)

func main() {
	paperlessURL := flag.String("paperless-url", envOrDefault("PAPERLESS_URL", "http://127.0.0.1:8000"), "paperless base URL")
	paperlessToken := flag.String("paperless-token", strings.TrimSpace(os.Getenv("PAPERLESS_TOKEN")), "paperless API token")
	notionToken := flag.String("notion-token", strings.TrimSpace(os.Getenv("NOTION_TOKEN")), "notion integration token")
	documentsDB := flag.String("documents-db", strings.TrimSpace(os.Getenv("NOTION_DOCUMENTS_DB")), "notion documents database id")
	tagsDB := flag.String("tags-db", strings.TrimSpace(os.Getenv("NOTION_TAGS_DB")), "notion tags database id")
	correspondentsDB := flag.String("correspondents-db", strings.TrimSpace(os.Getenv("NOTION_CORRESPONDENTS_DB")), "notion correspondents database id")
	interval := flag.Duration("interval", durationEnv("PAPERSYNC_INTERVAL", time.Hour), "sync interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("PAPERSYNC_INTERVAL_JITTER", 0), "sync interval jitter ratio (0.0-1.0)")
	cooldown := flag.Duration("cooldown", durationEnv("PAPERSYNC_COOLDOWN", time.Minute), "retry delay after a failed cycle")
	timeout := flag.Duration("timeout", durationEnv("PAPERSYNC_TIMEOUT", 10*time.Minute), "per-cycle timeout")
	stateDSN := flag.String("state-dsn", strings.TrimSpace(os.Getenv("PAPERSYNC_STATE_DSN")), "state backend DSN (memory://, file://path, sqlite://path, postgres://...)")
	adminAddr := flag.String("admin-addr", strings.TrimSpace(os.Getenv("PAPERSYNC_ADMIN_ADDR")), "admin API listen address (empty disables)")
	adminToken := flag.String("admin-token", strings.TrimSpace(os.Getenv("PAPERSYNC_ADMIN_TOKEN")), "static bearer token for the admin API")
	logLevel := flag.String("log-level", envOrDefault("PAPERSYNC_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	skipFiles := flag.Bool("skip-files", boolEnv("PAPERSYNC_SKIP_FILES", false), "mirror pages without downloading document files")
	once := flag.Bool("once", false, "run one sync cycle and exit")
	flag.Parse()

	if strings.TrimSpace(*paperlessToken) == "" {
		log.Fatalf("paperless token is required (--paperless-token or PAPERLESS_TOKEN)")
	}
	if strings.TrimSpace(*notionToken) == "" {
		log.Fatalf("notion token is required (--notion-token or NOTION_TOKEN)")
	}
	if strings.TrimSpace(*documentsDB) == "" || strings.TrimSpace(*tagsDB) == "" || strings.TrimSpace(*correspondentsDB) == "" {
		log.Fatalf("documents, tags, and correspondents database ids are required")
	}
	if *interval <= 0 {
		*interval = time.Hour
	}
	if *cooldown <= 0 {
		*cooldown = time.Minute
	}
	if *timeout <= 0 {
		*timeout = 10 * time.Minute
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	logger := logging.NewTextLogger(os.Stderr, *logLevel)

	source, err := paperless.NewClient(*paperlessURL, *paperlessToken, &http.Client{Timeout: 2 * time.Minute}, logger.With("component", "paperless"))
	if err != nil {
		log.Fatalf("failed to initialize paperless client: %v", err)
	}
	notionClient, err := notion.NewClient(notion.ClientOptions{Token: *notionToken})
	if err != nil {
		log.Fatalf("failed to initialize notion client: %v", err)
	}
	sink, err := notion.NewSink(notionClient, notion.SinkOptions{
		DocumentsDB:      *documentsDB,
		TagsDB:           *tagsDB,
		CorrespondentsDB: *correspondentsDB,
		Logger:           logger.With("component", "notion"),
	})
	if err != nil {
		log.Fatalf("failed to initialize notion sink: %v", err)
	}

	backend, err := syncer.BuildStateBackendFromDSN(*stateDSN)
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}
	defer closeBackend(backend)

	hub := httpapi.NewEventHub(logger.With("component", "events"))
	daemon, err := syncer.New(source, sink, syncer.Options{
		StateBackend: backend,
		Logger:       logger.With("component", "syncer"),
		Events:       hub,
		SkipFiles:    *skipFiles,
	})
	if err != nil {
		log.Fatalf("failed to initialize syncer: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trigger := make(chan struct{}, 1)
	if strings.TrimSpace(*adminAddr) != "" {
		server := httpapi.NewServer(daemon, hub, httpapi.ServerConfig{
			AdminToken: *adminToken,
			Logger:     logger.With("component", "httpapi"),
			Trigger: func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			},
		})
		httpServer := &http.Server{Addr: *adminAddr, Handler: server}
		go func() {
			logger.Info(rootCtx, "admin API listening", "addr", *adminAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(rootCtx, "admin API stopped", "error", err)
			}
		}()
		go func() {
			<-rootCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	run := func() error {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		return daemon.SyncOnce(ctx)
	}

	if err := run(); err != nil {
		logger.Error(rootCtx, "sync cycle failed", "error", err)
		if *once {
			os.Exit(1)
		}
	} else {
		logger.Info(rootCtx, "sync cycle completed")
	}
	if *once {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	next := func(failed bool) time.Duration {
		if failed {
			return *cooldown
		}
		return jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64())
	}

	timer := time.NewTimer(next(false))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			logger.Info(context.Background(), "shutting down", "reason", rootCtx.Err())
			return
		case <-trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		err := run()
		if err != nil {
			logger.Error(rootCtx, "sync cycle failed", "error", err)
		} else {
			logger.Info(rootCtx, "sync cycle completed")
		}
		timer.Reset(next(err != nil))
	}
}

func closeBackend(backend syncer.StateBackend) {
	if closer, ok := backend.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
