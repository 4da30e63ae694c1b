package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/gateway"
	"payment-service/internal/kafka"
	"payment-service/internal/logging"
	"payment-service/internal/metrics"
	"payment-service/internal/notify"
	"payment-service/internal/outbox"
	"payment-service/internal/payment"
	"payment-service/internal/reconcile"
	"payment-service/internal/webhook"
)

func main() {
	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connStr := db.GetConnStr(cfg.Database)
	db.RunMigrations(connStr, "migrations")

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	transactionRepo := db.NewTransactionRepository(dbpool)
	donationRepo := db.NewDonationRepository(dbpool)
	eventRepo := db.NewPaymentEventRepository(dbpool)

	mailer := notify.NewMailer(cfg.Mailer, logger)
	notifier := notify.NewEmailNotifier(donationRepo, mailer, cfg.Mailer.AdminEmail, logger)

	transitioner := payment.NewTransitioner(transactionRepo, donationRepo, eventRepo, notifier, logger)

	newReference, err := payment.NewReferenceGenerator()
	if err != nil {
		log.Fatal(err)
	}
	initiator := payment.NewInitiator(transactionRepo, donationRepo, newReference, cfg.Gateway.PublicKey, logger)

	gatewayClient := gateway.NewClient(cfg.Gateway, logger)

	sweeper := reconcile.NewSweeper(transactionRepo, gatewayClient, transitioner, cfg.Sweeper, logger)
	sweeper.Start(ctx)

	writer := kafka.NewWriter(cfg.Kafka)
	defer writer.Close()

	producer := outbox.NewProducer(eventRepo, writer, cfg.Outbox, logger)
	producer.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/donations", payment.NewInitiateHandler(initiator, logger))
	mux.Handle("POST /api/webhook", webhook.NewHandler(transactionRepo, transitioner, cfg.Gateway.WebhookSecret, logger))

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	logger.Info("Starting server", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
