package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/domain/parking"
	"parking-service/internal/gateway"
	httpapi "parking-service/internal/http"
	"parking-service/internal/logger"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/internal/settlement"
	"parking-service/internal/storage"
)

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the settlement dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	log := logger.New(cfg.Log, cfg.App.Name)

	gdb, err := db.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	if migrate {
		if err := db.Migrate(gdb); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
	}

	media, err := storage.NewFileStore(cfg.Storage.Root)
	if err != nil {
		return err
	}

	store := repository.NewStore(gdb)
	dispatcher := settlement.NewDispatcher(
		cfg.Settlement.QueueSize,
		cfg.Settlement.Workers,
		cfg.Settlement.Timeout,
		func(ctx context.Context, ticketID int64, receipt parking.SettlementReceipt) error {
			return store.Tickets.RecordSettlement(ctx, ticketID, receipt.TripID)
		},
		log,
	)

	locks := service.NewSpotLocks()
	provider := gateway.NewHTTPProvider(cfg, &http.Client{}, log)
	machine := service.NewSpotMachine(store, locks, provider, media, dispatcher, cfg.Recognition, log)
	intake := service.NewIntake(store, machine, log)
	reviews := service.NewReviewService(store, locks, provider, dispatcher, log)
	queries := service.NewQueryService(store, media)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      newRouter(cfg, intake, reviews, queries, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	dispatcher.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("env", cfg.App.Env).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := machine.Wait(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newRouter(cfg *config.Config, intake *service.Intake, reviews *service.ReviewService, queries *service.QueryService, log zerolog.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		httpapi.RequestID(),
		httpapi.Recovery(log),
		httpapi.RequestLogger(log.With().Str("component", "http").Logger()),
		httpapi.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	r.Use(cors.New(corsCfg))

	handler := httpapi.NewHandler(intake, reviews, queries, log.With().Str("component", "handler").Logger())
	handler.Register(r, httpapi.AuthMiddleware(cfg.Auth, log))

	return r
}
