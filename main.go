package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-service/api"
	"library-service/auth"
	"library-service/config"
	"library-service/events"
	"library-service/library"
)

const shutdownTimeout = 10 * time.Second

// readPassword reads a password from the terminal without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// promptNewPassword asks twice and checks both entries match.
func promptNewPassword() (string, error) {
	pw, err := readPassword("New password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	again, err := readPassword("Repeat password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if pw != again {
		return "", errors.New("passwords do not match")
	}
	return pw, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Str("service", "library-service").Logger()
}

// app holds what every subcommand needs once config is loaded.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	policy *library.Policy
}

func loadApp(envFile string) (*app, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: newLogger(cfg), policy: policy}, nil
}

func (a *app) openLibrary(opts ...library.Option) (*library.LibraryManager, error) {
	db, err := a.cfg.OpenDatabase()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	opts = append([]library.Option{
		library.WithLogger(a.log),
		library.WithPolicy(a.policy),
		library.WithMemberCache(a.cfg.MemberCacheSize, a.cfg.MemberCacheTTL),
	}, opts...)
	return library.NewLibraryManagerWithDatabase(db, opts...), nil
}

func main() {
	var envFile string

	root := &cobra.Command{
		Use:           "library-service",
		Short:         "Library management REST service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load settings from this .env file")

	root.AddCommand(serveCmd(&envFile), createAdminCmd(&envFile), resetPasswordCmd(&envFile))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd(envFile *string) *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("db") {
				a.cfg.DBPath = dbPath
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []library.Option
	if a.cfg.RabbitURL != "" {
		rabbit, err := events.Dial(a.cfg.RabbitURL, a.cfg.RabbitExchange, a.log)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer rabbit.Close()
		opts = append(opts, library.WithEvents(rabbit))
	} else {
		a.log.Info().Msg("RABBITMQ_URL not set, loan events disabled")
	}

	lib, err := a.openLibrary(opts...)
	if err != nil {
		return err
	}
	defer lib.Close()

	issuer := auth.NewIssuer([]byte(a.cfg.JWTSecret), a.cfg.JWTTTL, a.cfg.JWTIssuer, lib.Roster)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.NewServer(lib, issuer, a.policy, a.log).Handler(a.cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Str("driver", a.cfg.DBDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func createAdminCmd(envFile *string) *cobra.Command {
	var name, email, phone, address string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an ADMIN member, prompting for the password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*envFile)
			if err != nil {
				return err
			}
			lib, err := a.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			pw, err := promptNewPassword()
			if err != nil {
				return err
			}
			today := library.DateOf(time.Now())
			m, err := lib.Roster.AddMember(cmd.Context(), library.MemberInput{
				Name:                name,
				Email:               email,
				Password:            pw,
				PhoneNumber:         phone,
				Address:             address,
				Role:                library.RoleAdmin,
				MembershipStartDate: today,
				MembershipEndDate:   today.AddDate(1, 0, 0),
				Active:              true,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created admin %s (ID: %d)\n", m.Email, m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&phone, "phone", "-", "phone number")
	cmd.Flags().StringVar(&address, "address", "-", "postal address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func resetPasswordCmd(envFile *string) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password for a member",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*envFile)
			if err != nil {
				return err
			}
			lib, err := a.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			m, err := lib.Roster.GetMemberByEmail(cmd.Context(), email)
			if err != nil {
				return err
			}
			pw, err := promptNewPassword()
			if err != nil {
				return err
			}
			if err := lib.Roster.ResetPassword(cmd.Context(), m.ID, pw); err != nil {
				return err
			}
			fmt.Printf("Password updated for %s\n", m.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "member email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
