// Command timed is the command-line client for the timed backend:
// authenticate via the OIDC device flow, then list and book time
// entries, absences, and balances.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/alexjbarnes/timed-cli/internal/auth"
	"github.com/alexjbarnes/timed-cli/internal/cache"
	"github.com/alexjbarnes/timed-cli/internal/config"
	"github.com/alexjbarnes/timed-cli/internal/logging"
	"github.com/alexjbarnes/timed-cli/internal/store"
	"github.com/alexjbarnes/timed-cli/internal/timed"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env carries everything a command needs, wired once per invocation.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	auth   *auth.Manager
	client *timed.Client
}

// setup loads config and opens the credential store; the remote side is
// not touched until a command issues a request.
func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	st, err := store.Open()
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	mgr := auth.NewManager(auth.Config{
		DiscoveryURL: cfg.SSODiscoveryURL,
		ClientID:     cfg.SSOClientID,
		Username:     cfg.Username,
		Store:        st,
		Logger:       logger,
	})

	client := timed.NewClient(timed.Config{
		BaseURL:  cfg.BaseURL(),
		Tokens:   mgr,
		Cache:    cache.New(),
		CacheTTL: cfg.CacheTTL.Std(),
		Logger:   logger,
	})

	return &env{cfg: cfg, logger: logger, store: st, auth: mgr, client: client}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing credential store", slog.String("error", err.Error()))
	}
}

// withEnv wires setup/teardown around a command action.
func withEnv(action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		return action(c, e)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "timed",
		Usage:   "track time against the timed backend",
		Version: Version,
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			activityCommand(),
			reportCommand(),
			projectCommand(),
			customerCommand(),
			taskCommand(),
			absenceCommand(),
			balanceCommand(),
			overviewCommand(),
			configCommand(),
		},
	}
}

// displayDeviceAuth presents the verification prompt. On a terminal the
// full instructions are printed; otherwise just the URL, so scripts and
// pipes get something parseable.
func displayDeviceAuth(da auth.DeviceAuth) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		if da.VerificationURIComplete != "" {
			fmt.Println(da.VerificationURIComplete)
		} else {
			fmt.Println(da.VerificationURI)
		}

		return
	}

	fmt.Printf("\nOpen %s\nand enter the code: %s\n", da.VerificationURI, da.UserCode)

	if da.VerificationURIComplete != "" {
		fmt.Printf("or open %s directly.\n", da.VerificationURIComplete)
	}

	fmt.Printf("\nThe code expires in %s. Waiting for approval...\n", da.ExpiresIn)
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "authenticate via the device flow",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "discard stored credentials and authenticate again",
			},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			if c.Bool("force") {
				if err := e.auth.ForceRenew(c.Context, displayDeviceAuth); err != nil {
					return err
				}
			} else {
				if _, err := e.auth.Token(c.Context); err == nil {
					fmt.Println("already logged in")
					return nil
				}

				if err := e.auth.Login(c.Context, displayDeviceAuth); err != nil {
					return err
				}
			}

			fmt.Println("logged in")

			return nil
		}),
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "discard stored credentials",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if err := e.auth.Logout(); err != nil {
				return err
			}

			fmt.Println("logged out")

			return nil
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show authentication state and configuration",
		Action: withEnv(func(c *cli.Context, e *env) error {
			fmt.Printf("backend:  %s\n", e.cfg.BaseURL())
			fmt.Printf("username: %s\n", e.cfg.Username)

			rec, err := e.store.Credentials()
			if err != nil {
				return fmt.Errorf("reading credentials: %w", err)
			}

			if rec == nil {
				fmt.Println("state:    not logged in")
				return nil
			}

			fmt.Printf("state:    logged in as %s\n", rec.Subject)
			fmt.Printf("expires:  %s\n", rec.ExpiresAt.Local().Format("2006-01-02 15:04:05"))

			return nil
		}),
	}
}
