package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"memberd/internal/boot"
	"memberd/internal/handlers"
	"memberd/internal/service/account"
	"memberd/internal/session"
	"memberd/internal/store"
)

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	st, err := store.New(config.DatabasePath)
	if err != nil {
		log.Fatalf("opening store: %+v", err)
	}
	defer st.Close()

	accounts := account.New(st, account.Options{
		BaseURL:       config.BaseURL,
		UserCacheSize: config.UserCacheSize,
		PageCacheSize: config.PageCacheSize,
	})
	count, err := accounts.Init()
	if err != nil {
		log.Fatalf("building identity index: %+v", err)
	}
	log.Infof("identity index loaded, %d accounts", count)

	sessions, err := session.New(config.SessionKeyFile, config.SessionTTL)
	if err != nil {
		log.Fatalf("creating session signer: %+v", err)
	}

	server := echo.New()
	server.Use(middleware.BodyLimit("1M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("memberd"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	server.GET("/.well-known/jwks.json", handlers.JWKS(sessions))

	api := server.Group("/api/user")
	api.POST("/register", handlers.Register(accounts, sessions))
	api.POST("/login", handlers.Login(accounts, sessions))
	api.GET("/reset/:token", handlers.Reset(accounts, sessions))
	api.GET("/:id", handlers.GetUser(accounts))

	authed := api.Group("", handlers.Authenticated(sessions))
	authed.GET("", handlers.GetOwn(accounts))
	authed.PUT("", handlers.UpdateUser(accounts))
	authed.POST("/:id/follow", handlers.Follow(accounts))
	authed.DELETE("/:id/follow", handlers.Unfollow(accounts))

	admin := api.Group("/admin", handlers.Authenticated(sessions), handlers.AdminOnly())
	admin.GET("", handlers.ListUsers(accounts))
	admin.POST("", handlers.AddUsers(accounts))

	go func() {
		metrics := echo.New()
		metrics.GET("/metrics", echoprometheus.NewHandler())
		if err := metrics.Start(config.MetricsAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(config.ListenAddress); err != nil && err != http.ErrServerClosed {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Fatal(err)
	}
}
