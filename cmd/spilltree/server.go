package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spilltree/spilltree/membertree"
	"github.com/spilltree/spilltree/membertree/handlers"
	"github.com/spilltree/spilltree/util/svcutil"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	cli "github.com/urfave/cli/v2"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the spilltree API daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "Specify the local IP/port to bind to",
			Value:   ":5000",
			EnvVars: []string{"SPILLTREE_BIND", "PORT_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"SPILLTREE_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "body-limit",
			Usage:   "maximum request body size",
			Value:   "64K",
			EnvVars: []string{"SPILLTREE_BODY_LIMIT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger := svcutil.ConfigLogger(cctx, os.Stdout)

		shutdownTracing, err := configOTEL(ctx, "spilltree")
		if err != nil {
			return err
		}
		defer shutdownTracing()

		engine, store, err := openEngine(ctx, cctx, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		srv := NewServer(engine, ServerConfig{
			Logger:    logger,
			Bind:      cctx.String("bind"),
			BodyLimit: cctx.String("body-limit"),
		})

		// prometheus HTTP endpoint: /metrics
		go func() {
			runtime.SetBlockProfileRate(10)
			runtime.SetMutexProfileFraction(10)
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}

type ServerConfig struct {
	Logger    *slog.Logger
	Bind      string
	BodyLimit string
}

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
}

func NewServer(engine *membertree.Engine, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.BodyLimit == "" {
		config.BodyLimit = "64K"
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:   e,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	h := handlers.NewHandlers(engine, versioninfo.Short(), logger)

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(config.BodyLimit))
	e.Use(echoprometheus.NewMiddleware("spilltree"))
	e.HTTPErrorHandler = h.ErrorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))
	e.Use(middleware.CORS())

	h.Register(e)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
				errCh <- err
			}
		}
	}()

	// Wait for a signal to exit.
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exitSignals:
		srv.logger.Info("received OS exit signal", "signal", sig)
	case err := <-errCh:
		return err
	}

	if err := srv.Shutdown(); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
		return err
	}
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
