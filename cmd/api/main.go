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

	"github.com/ariefcatur/go-restaurant-backend/internal/auth"
	"github.com/ariefcatur/go-restaurant-backend/internal/cart"
	"github.com/ariefcatur/go-restaurant-backend/internal/config"
	"github.com/ariefcatur/go-restaurant-backend/internal/events"
	"github.com/ariefcatur/go-restaurant-backend/internal/httpx"
	kafkax "github.com/ariefcatur/go-restaurant-backend/internal/kafka"
	"github.com/ariefcatur/go-restaurant-backend/internal/logx"
	"github.com/ariefcatur/go-restaurant-backend/internal/orders"
	"github.com/ariefcatur/go-restaurant-backend/internal/payment"
	"github.com/ariefcatur/go-restaurant-backend/internal/postgres"
	"github.com/ariefcatur/go-restaurant-backend/internal/pricing"
	"github.com/ariefcatur/go-restaurant-backend/internal/redisx"
	"github.com/ariefcatur/go-restaurant-backend/internal/reservations"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logx.New("restaurant-api", "info")
		boot.Fatal().Err(err).Msg("config")
	}
	log := logx.New(cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewStatusCache(rdb)

	// Kafka producer, one for every topic
	var pub events.Publisher = events.Nop{}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(ctx)
		pub = kafkax.EventPublisher{P: prod}
	} else {
		log.Warn().Msg("no kafka brokers configured, events are dropped")
	}

	gateways := map[orders.PaymentMethod]payment.Gateway{}
	if cfg.Payment.Enabled() {
		gateways[orders.PaymentCard] = payment.NewHTTPGateway(payment.Config{
			BaseURL:        cfg.Payment.BaseURL,
			ConsumerKey:    cfg.Payment.ConsumerKey,
			ConsumerSecret: cfg.Payment.ConsumerSecret,
			NotificationID: cfg.Payment.NotificationID,
			CallbackURL:    cfg.Payment.CallbackURL,
			Currency:       cfg.Currency,
			Timeout:        15 * time.Second,
		})
	} else {
		log.Warn().Msg("payment gateway not configured, card orders disabled")
	}

	orderSvc := &orders.Service{
		Store:    &orders.Repo{DB: db},
		Pricing:  pricing.NewEngine(cfg.TaxRate),
		Gateways: gateways,
		Events:   pub,
		Idem:     redisx.NewIdempotency(rdb),
		Cache:    cache,
		Log:      log,
		Producer: cfg.ServiceName,
	}
	reservationSvc := &reservations.Service{
		Store:    &reservations.Repo{DB: db},
		Events:   pub,
		Cache:    cache,
		Log:      log,
		Producer: cfg.ServiceName,
	}
	cartSvc := &cart.Service{Store: &cart.Repo{DB: db}, Log: log}

	router := httpx.NewRouter(httpx.NewClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	httpx.API{
		Auth:         auth.NewVerifier(cfg.JWTSecret),
		Cart:         &httpx.CartHandler{Svc: cartSvc, Log: log},
		Orders:       &httpx.OrdersHandler{Svc: orderSvc, Log: log},
		Reservations: &httpx.ReservationsHandler{Svc: reservationSvc, Log: log},
	}.Mount(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close() // no more publishers after Shutdown
		prod.WaitClosed()
	}
	cancel()
}
