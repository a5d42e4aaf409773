package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Logger()
}

func main() {
	var c string
	flag.StringVar(&c, "c", "config.yaml", "config path")
	flag.Parse()

	cfg, err := initConfig(c)
	if err != nil {
		log.Fatal().Msgf("failed to read config %v: %v", c, err)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Msgf("unknown log level %q, using info", cfg.Log.Level)
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := httprouter.New()

	app, err := enableNotifierModule(ctx, cfg, router)
	if err != nil {
		log.Fatal().Msgf("failed to initialize notifier: %v", err)
	}

	// no WriteTimeout: streams are long lived and every write sets its own deadline
	server := http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           newCORS(cfg.HTTP.AllowedOrigins).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	// request contexts derive from ctx; cancelling it ends the open streams so Shutdown can finish
	server.RegisterOnShutdown(cancel)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info().Msgf("Serving at %v..", cfg.HTTP.Address)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		defer signal.Stop(sigint)

		select {
		case <-sigint:
			log.Info().Msgf("SIGINT received, shutting down..")
		case <-egCtx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		err := server.Shutdown(shutdownCtx)
		app.Close()

		if err != nil {
			log.Err(err).Msgf("HTTP server Shutdown")
		}
		return err
	})

	if err := eg.Wait(); err != nil {
		log.Err(err).Msgf("stopped with error")
	}

	log.Info().Msgf("Bye bye")
}
