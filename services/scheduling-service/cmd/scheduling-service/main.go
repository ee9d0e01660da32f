package main

import (
	"context"
	"net/http"
	"time"

	"github.com/clinicops/clinicsched/libs/config"
	"github.com/clinicops/clinicsched/libs/db"
	"github.com/clinicops/clinicsched/libs/httpx"
	"github.com/clinicops/clinicsched/libs/kafkax"
	otelx "github.com/clinicops/clinicsched/libs/otel"
	"github.com/clinicops/clinicsched/libs/runtime"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/engine"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/notes"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/settings"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/storage"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/sweeper"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	fallbackHours, err := settings.HoursFromStrings(
		config.String("OPEN_TIME", "09:00"),
		config.String("CLOSE_TIME", "17:00"),
		config.Int("SLOT_MINUTES", 30),
	)
	if err != nil {
		logger.Error("invalid clinic hours config", "err", err)
		panic(err)
	}
	settingsProvider, err := settings.NewClinicProfileProvider(logger, fallbackHours, config.String("CLINIC_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("clinic profile provider init failed; using static hours", "err", err)
		settingsProvider = settings.NewStaticProvider(fallbackHours)
	}

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewAppointmentRepository(pool, outboxRepo)
	notesRepo := notes.NewRepository(pool)
	eng := engine.New(repo, settingsProvider, notesRepo, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	go sweeper.New(eng, logger, config.Duration("SWEEP_INTERVAL", time.Minute)).Run(ctx)

	schedulingHandler := handlers.NewSchedulingHandler(eng, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}

	// The public booking surface is rate limited; Redis keeps the counters
	// shared across replicas when configured.
	publicLimit := httpx.NewRateLimiter(config.Int("PUBLIC_RATE_LIMIT", 30), time.Minute).Middleware()
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid redis url", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		publicLimit = httpx.NewRedisRateLimiter(rdb, config.Int("PUBLIC_RATE_LIMIT", 30), time.Minute, service).
			Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/v1/public/slots", publicLimit(http.HandlerFunc(schedulingHandler.Slots)))
	mux.Handle("/api/v1/public/appointments", publicLimit(http.HandlerFunc(schedulingHandler.CreatePublic)))
	mux.HandleFunc("/api/v1/appointments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			schedulingHandler.List(w, r)
			return
		}
		schedulingHandler.CreateStaff(w, r)
	})
	mux.HandleFunc("/api/v1/appointments/approve", schedulingHandler.Approve)
	mux.HandleFunc("/api/v1/appointments/reschedule", schedulingHandler.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", schedulingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/complete", schedulingHandler.Complete)
	mux.HandleFunc("/api/v1/admin/sweep-missed", schedulingHandler.SweepMissed)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: []string{config.String("CORS_ALLOWED_ORIGINS", "*")},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
