// Command vaultctl runs operator tasks against the filevault database and
// content store without starting the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"filevault/internal/server/auth"
	"filevault/internal/server/config"
	"filevault/internal/server/database"
	"filevault/internal/server/logging"
	"filevault/internal/server/service"
	"filevault/internal/server/storage"
)

func main() {
	if err := run(os.Args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// run parses argv and invokes the matching subcommand.
func run(argv []string, out io.Writer) error {
	if len(argv) < 2 {
		usage()
		return errors.New("missing subcommand")
	}

	switch argv[1] {
	case "migrate":
		return runMigrate(argv[2:], out)
	case "create-admin":
		return runCreateAdmin(argv[2:], out)
	case "sweep":
		return runSweep(argv[2:], out)
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "vaultctl <migrate|create-admin|sweep> [-config path] [flags]")
}

// env holds what every subcommand needs once config is loaded.
type env struct {
	cfg *config.Config
	db  *database.DB
}

func setup(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if _, err := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, Writer: os.Stderr}); err != nil {
		return nil, err
	}
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db}, nil
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("FILEVAULT_CONFIG"), "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	e, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	if err := e.db.RunMigrations(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "migrations applied")
	return nil
}

func runCreateAdmin(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("FILEVAULT_CONFIG"), "path to a YAML config file")
	var in service.RegisterInput
	fs.StringVar(&in.Username, "username", "admin", "admin username")
	fs.StringVar(&in.Email, "email", "", "admin email address")
	fs.StringVar(&in.FullName, "full-name", "Administrator", "admin display name")
	fs.StringVar(&in.Password, "password", "", "admin password (default: $FILEVAULT_ADMIN_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if in.Password == "" {
		in.Password = os.Getenv("FILEVAULT_ADMIN_PASSWORD")
	}
	if in.Email == "" || in.Password == "" {
		return errors.New("create-admin: -email and a password are required")
	}

	ctx := context.Background()
	e, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	if err := e.db.RunMigrations(ctx); err != nil {
		return err
	}
	store, err := storage.FromConfig(ctx, e.cfg)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionIssuer(e.cfg.SessionSecret, e.cfg.SessionTTL)
	if err != nil {
		return err
	}

	users := service.NewUserService(database.NewRepository(e.db), store, sessions)
	u, err := users.CreateAdmin(ctx, in)
	if err != nil {
		return fmt.Errorf("create-admin: %w", err)
	}
	fmt.Fprintf(out, "created admin %q (id %d)\n", u.Username, u.ID)
	return nil
}

func runSweep(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("FILEVAULT_CONFIG"), "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	e, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	store, err := storage.FromConfig(ctx, e.cfg)
	if err != nil {
		return err
	}
	files := service.NewFileService(database.NewRepository(e.db), store, e.cfg)

	res := storage.NewCleanupService(files, store, e.cfg.CleanupInterval, e.cfg.StaleAfter).RunOnce(ctx)
	fmt.Fprintf(out, "tokens cleared: %d, objects purged: %d, failures: %d\n",
		res.TokensCleared, res.ObjectsPurged, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("sweep: %d operations failed", res.Failed)
	}
	return nil
}
