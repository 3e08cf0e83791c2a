package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"

	cfg "coinfall-backend/internal/config"
)

var jwtSecret []byte

type App struct {
	DB          Store
	Validator   ScoreValidator
	Notifier    Notifier
	rateLimiter *RateLimiter
	botToken    string
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	jwtSecret = []byte(c.JwtSecret)

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         c.SentryDSN,
		Environment: c.AppEnv,
		Debug:       c.Debug,
	}); err != nil {
		log.Fatalf("sentry.Init: %v", err)
	}
	defer sentry.Flush(2 * time.Second)

	var db Store
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteStore(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}
		log.Println("Applying database migrations...")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		p, err := NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemStore()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	app := &App{
		DB:          db,
		Validator:   defaultValidator,
		Notifier:    noopNotifier{},
		rateLimiter: NewRateLimiter(120),
		botToken:    c.BotToken,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := NewBot(c.BotToken, app, c.Debug)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("bot init: %v", err)
	}
	app.Notifier = bot
	go func() {
		if err := bot.Start(ctx); err != nil {
			log.Printf("bot stopped: %v", err)
			sentry.CaptureException(err)
		}
	}()

	r := mux.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(app.Logging)
	r.Use(app.CORS)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := app.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(app.RateLimit)

	// /auth/sync is authenticated by the signed launch data itself;
	// refresh and logout only need the refresh token in the body.
	api.Handle("/auth/sync", app.TelegramAuth(http.HandlerFunc(app.HandleAuthSync))).Methods("POST")
	api.HandleFunc("/auth/refresh", app.HandleRefresh).Methods("POST")
	api.HandleFunc("/auth/logout", app.HandleLogout).Methods("POST")

	game := api.PathPrefix("/game").Subrouter()
	game.Use(app.BearerAuth)
	game.HandleFunc("/start", app.HandleGameStart).Methods("POST")
	game.HandleFunc("/end", app.HandleGameEnd).Methods("POST")
	game.HandleFunc("/sync", app.HandleGameSync).Methods("GET")

	srv := &http.Server{Handler: r, Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		log.Println("Starting server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	log.Println("Server exited properly")
}
