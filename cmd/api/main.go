package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/config"
	"github.com/mozlend/microcredit/internal/handler"
	"github.com/mozlend/microcredit/internal/integrations/rates"
	"github.com/mozlend/microcredit/internal/jobs"
	"github.com/mozlend/microcredit/internal/metrics"
	"github.com/mozlend/microcredit/internal/middleware"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository/postgres"
	"github.com/mozlend/microcredit/internal/service"
	"github.com/mozlend/microcredit/internal/utils/email"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize repositories
	institutionRepo := postgres.NewInstitutionRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	userRepo := postgres.NewUserRepository(db)
	creditRepo := postgres.NewCreditRepository(db)
	installmentRepo := postgres.NewInstallmentRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Notification dispatch: email when SMTP is configured, stored
	// records only otherwise.
	var dispatcher notify.Dispatcher = notify.NoopDispatcher{}
	if cfg.SMTPHost != "" {
		dispatcher = email.NewSender(cfg, logger)
	}
	notifier := notify.NewNotifier(notificationRepo, clientRepo, dispatcher, logger)

	// Initialize services
	collector := metrics.NewCollector()
	clk := clock.System()
	authSvc := service.NewAuthService(userRepo, cfg.JWTSecret, logger)
	creditSvc := service.NewCreditService(creditRepo, installmentRepo, clientRepo, institutionRepo,
		notifier, clk, logger, cfg.DefaultInterestRate)
	paymentSvc := service.NewPaymentService(paymentRepo, installmentRepo, creditRepo, creditSvc,
		notifier, collector, clk, logger)

	// Schedule the daily batch jobs
	scheduler := jobs.NewScheduler(logger)
	delinquency := jobs.NewDelinquencyScanner(installmentRepo, creditRepo, institutionRepo,
		creditSvc, notifier, collector, clk, logger, cfg.LateFeePercentage)
	reminders := jobs.NewReminderScheduler(installmentRepo, creditRepo, institutionRepo,
		notifier, collector, clk, logger)
	if err := scheduler.Register(cfg.DelinquencyCronSpec, delinquency); err != nil {
		logger.Fatalf("Failed to schedule delinquency scan: %v", err)
	}
	if err := scheduler.Register(cfg.ReminderCronSpec, reminders); err != nil {
		logger.Fatalf("Failed to schedule payment reminders: %v", err)
	}

	// Central bank reference rate: refreshed daily into the platform
	// default interest rate when a feed is configured.
	var ratesClient *rates.Client
	if cfg.RatesURL != "" {
		ratesClient = rates.NewClient(cfg.RatesURL, cfg.LendingMargin, logger)
		refresher := jobs.NewRateRefresher(ratesClient, creditSvc, collector, logger)
		if err := scheduler.Register(cfg.RatesCronSpec, refresher); err != nil {
			logger.Fatalf("Failed to schedule rate refresh: %v", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	h := handler.NewHandler(authSvc, creditSvc, paymentSvc, notifier)

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/payments/webhook", h.PaymentWebhook).Methods("POST")
	r.Handle("/metrics", collector.Handler()).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(authSvc))
	authRouter.HandleFunc("/credits/simulate", h.Simulate).Methods("POST")
	authRouter.HandleFunc("/credits/request", h.RequestCredit).Methods("POST")
	authRouter.HandleFunc("/credits", h.ListCredits).Methods("GET")
	authRouter.HandleFunc("/credits/{id}", h.GetCredit).Methods("GET")
	authRouter.HandleFunc("/credits/{id}/installments", h.GetInstallments).Methods("GET")
	authRouter.HandleFunc("/credits/{id}/approve", h.ApproveCredit).Methods("PUT")
	authRouter.HandleFunc("/credits/{id}/reject", h.RejectCredit).Methods("PUT")
	authRouter.HandleFunc("/credits/{id}/disburse", h.DisburseCredit).Methods("PUT")
	authRouter.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	authRouter.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET")
	authRouter.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	authRouter.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods("PUT")

	// Current reference rate, fetched on demand
	if ratesClient != nil {
		r.HandleFunc("/reference-rate", func(w http.ResponseWriter, req *http.Request) {
			rate, err := ratesClient.ReferenceRate(req.Context())
			if err != nil {
				http.Error(w, fmt.Sprintf("Failed to get reference rate: %v", err), http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]decimal.Decimal{"reference_rate": rate})
		}).Methods("GET")
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
