package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	api "github.com/mind-engage/iti-mocktest/internal/api/http"
	"github.com/mind-engage/iti-mocktest/internal/attendance"
	auth "github.com/mind-engage/iti-mocktest/internal/auth/middleware"
	"github.com/mind-engage/iti-mocktest/internal/config"
	"github.com/mind-engage/iti-mocktest/internal/db"
	"github.com/mind-engage/iti-mocktest/internal/docstore"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
	"github.com/mind-engage/iti-mocktest/internal/storage"
	syncx "github.com/mind-engage/iti-mocktest/internal/sync"
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Mode == config.ModeOffline {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

func main() {
	// .env is optional; real environment wins
	_ = godotenv.Load()
	cfg := config.FromEnv()

	log, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		store  docstore.Store
		events mocktest.EventSink
		ready  func(context.Context) error
	)
	if cfg.DBDriver == "memory" {
		store = docstore.NewMemoryStore()
	} else {
		dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			log.Fatal("db open failed", zap.String("driver", cfg.DBDriver), zap.Error(err))
		}
		defer dbh.Close()
		store = docstore.NewSQLStore(dbh)
		events = syncx.NewEventRepo(dbh, cfg.BaaSProjectID)
		ready = dbh.PingContext
	}

	mocktests := mocktest.NewService(store, mocktest.Options{
		DatabaseID:          cfg.DatabaseID,
		QuestionsCollection: cfg.Collections.Questions,
		PapersCollection:    cfg.Collections.Papers,
		DefaultMinutes:      cfg.DefaultPaperMinutes,
		Events:              events,
		Logger:              log.Named("mocktest"),
	})
	att := attendance.NewService(store, attendance.Options{
		DatabaseID:           cfg.DatabaseID,
		BatchesCollection:    cfg.Collections.Batches,
		AttendanceCollection: cfg.Collections.Attendance,
		HolidaysCollection:   cfg.Collections.Holidays,
		ProfilesCollection:   cfg.Collections.Profiles,
		DefaultRadius:        cfg.GeofenceRadiusMeters,
		RetentionDays:        cfg.AttendanceRetentionDays,
		Logger:               log.Named("attendance"),
	})
	sched, err := attendance.NewScheduler(att, log.Named("attendance"), cfg.AbsenteeCron, cfg.CleanupCron)
	if err != nil {
		log.Fatal("attendance schedule", zap.Error(err))
	}

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatal("blob store", zap.Error(err))
	}

	// --- Auth (local JWT, server callers by API key) ---
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret, cfg.APIKeyHash)
	offline := cfg.Mode == config.ModeOffline

	handler := api.NewRouter(api.Deps{
		Auth:               authSvc,
		MockTests:          mocktests,
		Attendance:         att,
		Blobs:              bs,
		Roles:              auth.ProfileRoles(store, docstore.Collection(cfg.DatabaseID, cfg.Collections.Profiles)),
		AllowClaimFallback: offline,
		EnableLogin:        offline,
		CORSOrigins:        cfg.CORSOrigins,
		Ready:              ready,
		Log:                log.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start()
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.HTTPAddr), zap.String("mode", string(cfg.Mode)),
			zap.String("db", cfg.DBDriver), zap.Int("cronJobs", sched.Jobs()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
}
