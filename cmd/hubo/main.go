package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hubo/api/internal/app"
	"hubo/api/internal/attachments"
	"hubo/api/internal/config"
	"hubo/api/internal/email"
	"hubo/api/internal/events"
	"hubo/api/internal/generator"
	"hubo/api/internal/metrics"
	"hubo/api/internal/search"
	"hubo/api/internal/session"
	"hubo/api/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hubo",
		Short:        "hubo project dashboard API",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newReindexCmd(), newProgressCmd(), newUsersCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			log.Printf("migrations in %s applied", cfg.MigrationsDir)
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Reload every project, task and idea into Meilisearch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is not set")
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meili.Close()
			pgfts := search.NewPgFTS(db)
			search.NewService(meili, pgfts, pgfts).ReindexAll(cmd.Context())
			return nil
		},
	}
}

func newProgressCmd() *cobra.Command {
	progress := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or advance a project's backlog stage",
	}

	progress.AddCommand(&cobra.Command{
		Use:   "eval <project-id>",
		Short: "Report whether the project may leave its current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *app.Service) error {
				eligibility, err := svc.EvaluateProgression(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, eligibility)
			})
		},
	})

	var actor string
	advance := &cobra.Command{
		Use:   "advance <project-id>",
		Short: "Advance an eligible project to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *app.Service) error {
				result, err := svc.AdvanceProject(cmd.Context(), args[0], actor)
				if result.Advanced || err == nil {
					if printErr := printJSON(cmd, result); printErr != nil {
						return printErr
					}
				}
				return err
			})
		},
	}
	advance.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the progression history")
	progress.AddCommand(advance)

	return progress
}

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	users.AddCommand(&cobra.Command{
		Use:   "set-role <email> <viewer|member|admin>",
		Short: "Change a user's role, for example to grant the first admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *app.Service) error {
				user, err := svc.SetUserRoleByEmail(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"id": user.ID, "email": user.Email, "role": user.Role})
			})
		},
	})
	return users
}

func printJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, nil
}

// runtime holds the wired service and everything that must be closed with it.
type runtime struct {
	service *app.Service
	search  *search.Service
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func withService(ctx context.Context, fn func(*app.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rt, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.service)
}

func build(ctx context.Context, cfg config.Config) (*runtime, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{closers: []func(){func() { _ = db.Close() }}}
	dataStore := store.NewPostgresStore(db)

	deps := app.Deps{
		Store:  dataStore,
		AI:     generator.New(cfg.GeneratorURL, cfg.GeneratorAPIKey, cfg.GeneratorTimeout),
		Broker: events.NewBroker(0),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}
	rt.closers = append(rt.closers, deps.Broker.Close)

	pgfts := search.NewPgFTS(db)
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		rt.closers = append(rt.closers, meili.Close)
		index = meili
	}
	rt.search = search.NewService(index, pgfts, pgfts)
	deps.Search = rt.search

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Printf("hubo: using redis for sessions")
		rt.closers = append(rt.closers, func() { _ = redisStore.Close() })
		deps.Sessions = redisStore
	} else {
		log.Printf("hubo: using postgres for sessions")
	}

	objects, err := attachments.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("object storage: %w", err)
	}
	if objects != nil {
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Printf("hubo: attachment bucket unavailable: %v", err)
		} else {
			deps.Attachments = objects
		}
	}

	rt.service = app.New(cfg, deps)
	return rt, nil
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	rt, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(rt.service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("hubo API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rt.search.ReindexAll(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("hubo: shutdown error: %v", err)
		}
		return nil
	})
	return g.Wait()
}
