package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"authsvc/internal/auth"
	"authsvc/internal/config"
	"authsvc/internal/database"
	"authsvc/internal/email"
	"authsvc/internal/logging"
	redisx "authsvc/internal/redis"
	"authsvc/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logOutput := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		fw, err := logging.NewRotatingFileWriter(cfg.LogFile, 50<<20, 5)
		if err != nil {
			log.Fatalf("log setup error: %v", err)
		}
		defer fw.Close()
		logOutput = io.MultiWriter(os.Stdout, fw)
	}
	log.SetOutput(logOutput)
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lshortfile)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer db.Close()

	redisClient, err := redisx.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer redisClient.Close()

	users := auth.NewRepository(db)
	hasher := auth.NewBcryptHasher()
	reconciler := auth.NewReconciler(users, hasher)
	tokens := auth.NewTokenCodec(cfg.SessionSecret, cfg.SessionTTL)
	rateLimiter := &auth.RateLimiter{Redis: redisClient}
	audit := &auth.AuditLogger{Redis: redisClient, MaxLen: 1000}

	var mailer server.Mailer
	if cfg.Email.Enabled() {
		mailer = email.NewSender(cfg.Email)
	} else {
		log.Printf("email delivery disabled: EMAIL_SERVER_* not configured")
	}

	api := server.NewServer(cfg, users, reconciler, tokens, rateLimiter, redisClient, mailer, audit, hasher)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Router(),
		ReadTimeout:  1 * time.Minute,
		WriteTimeout: 1 * time.Minute,
	}

	log.Printf("Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
