package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/challenge"
	"github.com/certforge/certforge/internal/config"
	"github.com/certforge/certforge/internal/deploy"
	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/renewal"
	"github.com/certforge/certforge/internal/server"
	"github.com/certforge/certforge/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	logger = l.With(zap.String("package", "main"))
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("certforge starting...", zap.String("storage_type", cfg.StorageType))

	// Initialize storage
	store, err := storage.NewStorage(
		cfg.StorageType,
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err), zap.String("storage_type", cfg.StorageType))
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage initialized")

	comm := acme.NewCommunicator(time.Duration(cfg.HTTPTimeoutSeconds) * time.Second)

	challenges := challenge.NewRegistry()
	challenges.Register("http", nil, challenge.NewServedHTTP01Constructor(store))
	challenges.Register("http-file", nil, challenge.NewFileHTTP01)
	challenges.Register("dns", nil, challenge.NewDNS01)

	deployers := deploy.NewRegistry()

	engine := renewal.NewEngine(
		store,
		comm,
		challenges,
		deployers,
		time.Duration(cfg.RenewalWindowDays)*24*time.Hour,
		cfg.PollDelaySeconds,
	)

	// Renewal sweep: tick every certificate that needs work, one certificate
	// at a time per id.
	sweeper := newSweeper(store, engine)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, sweeper.sweep); err != nil {
		logger.Fatal("invalid sweep schedule", zap.Error(err), zap.String("schedule", cfg.SweepSchedule))
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()
	logger.Info("renewal sweep scheduled", zap.String("schedule", cfg.SweepSchedule))

	e := echo.New()
	server.ApplyCommonMiddleware(e, store, cfg, engine, comm, challenges, logger)
	server.SetupRouter(e, cfg)

	// Extra challenge-only listeners for authorization ports beyond the main
	// address.
	for _, listener := range server.StartChallengeListeners(context.Background(), store, cfg.HTTPAddress, logger) {
		defer listener.Close()
	}

	logger.Info("listening", zap.String("address", cfg.HTTPAddress))
	if err := e.Start(cfg.HTTPAddress); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// sweeper drives renewal ticks for every certificate, serializing ticks per
// certificate id.
type sweeper struct {
	store  storage.Storage
	engine *renewal.Engine

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSweeper(store storage.Storage, engine *renewal.Engine) *sweeper {
	return &sweeper{
		store:  store,
		engine: engine,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *sweeper) lockFor(certID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[certID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[certID] = l
	}
	return l
}

func (s *sweeper) sweep() {
	ctx := context.Background()
	certs, err := s.store.ListCertificates(ctx)
	if err != nil {
		logger.Error("sweep failed to list certificates", zap.Error(err))
		return
	}
	for _, cert := range certs {
		s.tickUntilDone(ctx, cert)
	}
}

// tickUntilDone drives one certificate forward until the engine reports
// nothing more to do, honoring suggested delays between ticks.
func (s *sweeper) tickUntilDone(ctx context.Context, cert *model.Certificate) {
	lock := s.lockFor(cert.ID)
	lock.Lock()
	defer lock.Unlock()

	for {
		result, err := s.engine.NextStep(ctx, cert.ID, renewal.Options{})
		if err != nil {
			logger.Error("renewal tick failed",
				zap.String("certificate", cert.Name), zap.Error(err))
			return
		}
		for _, entry := range result.Log {
			logger.Info(entry, zap.String("certificate", cert.Name))
		}
		if result.Delay == renewal.DelayDone {
			return
		}
		if result.Delay > 0 {
			time.Sleep(time.Duration(result.Delay) * time.Second)
		}
	}
}
