package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/vinayprograms/sessionkit/config"
	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/page"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/shutdown"
	"github.com/vinayprograms/sessionkit/store"
	"github.com/vinayprograms/sessionkit/tab"
	"github.com/vinayprograms/sessionkit/telemetry"
)

// phaseExternal releases connections after the store views are closed.
const phaseExternal = shutdown.PhaseRelease + 10

// NewRunCommand runs one headless tab driven by stdin commands.
func NewRunCommand(loader *config.Loader) *cobra.Command {
	var route string
	var token string
	var adminToken string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a headless tab against the backend",
		Long: `Run a headless tab. Commands are read from stdin, one per line:

  activity [kind]     dispatch an input event (default click)
  hide | show         change page visibility
  navigate <route>    move to route
  settings-updated    broadcast a settings change to other tabs
  policy-updated      announce a settings change within this tab
  status              print the tab state
  quit                tear the tab down and exit`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, _ []string) {
			v := loader.Viper()
			_ = v.BindPFlag("api.base_url", cmd.Flags().Lookup("api"))
			if cmd.Flags().Changed("nats") {
				_ = v.BindPFlag("store.nats_url", cmd.Flags().Lookup("nats"))
				v.Set("store.backend", config.BackendNATS)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			log := logging.Wrap(pslog.Ctx(ctx))

			var cleanups []cleanup
			defer func() {
				// Only reached when setup fails before the tab owns them.
				for i := len(cleanups) - 1; i >= 0; i-- {
					_ = cleanups[i].fn(context.Background())
				}
			}()

			id := uuid.NewString()
			tracer := telemetry.GetTracer()
			if cfg.Telemetry.Endpoint != "" {
				provider, err := telemetry.InitProvider(ctx, cfg.Telemetry, telemetry.Tab{
					ID:           id,
					StoreBackend: cfg.Store.Backend,
					Route:        route,
				})
				if err != nil {
					return fmt.Errorf("init telemetry: %w", err)
				}
				tracer = provider.Tracer()
				cleanups = append(cleanups, cleanup{"telemetry", provider.Shutdown})
			}

			open, release, err := storeOpener(ctx, cfg.Store)
			if err != nil {
				return err
			}
			if release != nil {
				cleanups = append(cleanups, cleanup{"nats", release})
			}

			tb, err := tab.New(cfg, tab.Deps{
				OpenStore: open,
				ID:        id,
				Route:     route,
				Logger:    log,
				Tracer:    tracer,
			})
			if err != nil {
				return err
			}
			for _, c := range cleanups {
				tb.Shutdown().RegisterFuncWithPhase(c.name, c.fn, phaseExternal)
			}
			cleanups = nil

			if err := seedTokens(tb.Store(), token, adminToken); err != nil {
				_ = tb.Close(ctx)
				return err
			}

			out := cmd.OutOrStdout()
			tb.Page().OnNotice(func(n page.Notice) {
				fmt.Fprintf(out, "%s: %s\n", n.Level, n.Message)
			})
			tb.Page().OnRouteChange(func(r string) {
				fmt.Fprintf(out, "navigated: %s\n", r)
			})
			if _, err := tb.OnSessionExpired(func(role string) {
				fmt.Fprintf(out, "session expired: %s\n", role)
			}); err != nil {
				_ = tb.Close(ctx)
				return err
			}

			stop := tb.Shutdown().HandleSignals(ctx)
			defer stop()

			if err := tb.Start(ctx); err != nil {
				_ = tb.Close(ctx)
				return err
			}
			log.Info("tab_ready", map[string]interface{}{
				"id":      tb.ID(),
				"route":   tb.Page().Route(),
				"backend": cfg.Store.Backend,
			})

			if err := runCommands(ctx, tb, cmd.InOrStdin(), out); err != nil {
				_ = tb.Close(ctx)
				return err
			}
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.API.Timeout+5*time.Second)
			defer cancel()
			return tb.Close(closeCtx)
		},
	}

	flags := cmd.Flags()
	flags.String("api", config.Default().API.BaseURL, "backend API base URL")
	flags.StringVar(&route, "route", session.LandingRoute, "initial route")
	flags.StringVar(&token, "token", "", "standard-user token to seed the store with")
	flags.StringVar(&adminToken, "admin-token", "", "admin token to seed the store with")
	flags.String("nats", "", "NATS URL; selects the shared JetStream KV store")
	return cmd
}

type cleanup struct {
	name string
	fn   func(context.Context) error
}

// storeOpener returns the per-tab store opener for the configured backend
// and the release function of any connection it made.
func storeOpener(ctx context.Context, cfg config.StoreConfig) (tab.OpenFunc, func(context.Context) error, error) {
	switch cfg.Backend {
	case config.BackendNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("sessionkit"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		open := func(origin string) (store.Store, error) {
			return store.NewNATSStore(ctx, store.NATSStoreConfig{
				Conn:   nc,
				Bucket: cfg.Bucket,
				Origin: origin,
			})
		}
		release := func(context.Context) error {
			return nc.Drain()
		}
		return open, release, nil

	default:
		backend := store.NewMemoryBackend()
		open := func(origin string) (store.Store, error) {
			return backend.Open(origin), nil
		}
		return open, nil, nil
	}
}

func seedTokens(s store.Store, token, adminToken string) error {
	if token != "" {
		if err := s.Set(session.KeyToken, token); err != nil {
			return err
		}
	}
	if adminToken != "" {
		if err := s.Set(session.KeyAdminToken, adminToken); err != nil {
			return err
		}
		if err := s.Set(session.KeyIsAdmin, "true"); err != nil {
			return err
		}
	}
	return nil
}
