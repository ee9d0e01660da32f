package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/clinicops/clinicsched/libs/config"
	"github.com/clinicops/clinicsched/libs/db"
	"github.com/clinicops/clinicsched/libs/httpx"
	"github.com/clinicops/clinicsched/libs/kafkax"
	otelx "github.com/clinicops/clinicsched/libs/otel"
	"github.com/clinicops/clinicsched/libs/runtime"
	"github.com/clinicops/clinicsched/services/notification-service/internal/compose"
	"github.com/clinicops/clinicsched/services/notification-service/internal/consumer"
	"github.com/clinicops/clinicsched/services/notification-service/internal/email"
	"github.com/clinicops/clinicsched/services/notification-service/internal/inbox"
	"github.com/clinicops/clinicsched/services/notification-service/internal/sms"
	"github.com/clinicops/clinicsched/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@clinicsched.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	// Patient contact details live outside this system; every alert goes to
	// the clinic's own staff addresses.
	staffEmails := strings.Split(config.String("STAFF_NOTIFY_EMAILS", "frontdesk@clinicsched.local"), ",")
	staffPhone := config.String("STAFF_NOTIFY_PHONE", "")

	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(config.String("SMS_WEBHOOK_URL", ""), config.String("SMS_WEBHOOK_TOKEN", ""))
	default:
		smsSender = sms.NewNoopSender()
	}

	handleEvent := func(ctx context.Context, msg kafka.Message) error {
		evt, err := compose.Parse(msg.Value)
		if err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		subject, body, ok := compose.Message(msg.Topic, evt)
		if !ok {
			logger.Error("no template for topic", "topic", msg.Topic)
			return nil
		}

		status := "sent"
		if err := emailSender.Send(staffEmails, subject, body); err != nil {
			status = "failed"
			logger.Error("email send failed", "err", err, "appointment_id", evt.AppointmentID)
		}
		if staffPhone != "" {
			if err := smsSender.Send(ctx, staffPhone, subject); err != nil {
				logger.Error("sms send failed", "err", err, "appointment_id", evt.AppointmentID)
			}
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			AppointmentID: evt.AppointmentID,
			PatientID:     evt.PatientID,
			EventType:     msg.Topic,
			Channel:       "email",
			Recipient:     strings.Join(staffEmails, ","),
			Payload:       msg.Value,
			Status:        status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		logger.Info("event processed", "appointment_id", evt.AppointmentID, "topic", msg.Topic, "status", status)
		return nil
	}

	for _, topic := range compose.Topics() {
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   topic,
		}, handleEvent)
		go eventConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
