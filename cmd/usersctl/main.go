package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"user-registry/internal/config"
	apphttp "user-registry/internal/http"
	"user-registry/internal/repository/sqlite"
	"user-registry/internal/service"
	"user-registry/internal/storage"
)

const usage = `usage: usersctl [flags] <command> [args]

commands:
  init                                   create the users table
  register <username> <email> [password] add a user
  login <username> [password]            check credentials
  list                                   print all users
  serve                                  run the HTTP API
  backup [--list]                        upload a database snapshot to object storage

flags:
`

var errUsage = errors.New("invalid usage")

// readPassword is a test seam for term.ReadPassword.
var readPassword = func() (string, error) {
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	return string(b), err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("usersctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	listBackups := fs.Bool("list", false, "with backup: list stored snapshots instead of uploading")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if fs.Changed("list") && cmd != "backup" {
		fmt.Fprintf(stderr, "--list only applies to backup, not %q\n", cmd)
		return errUsage
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, _ := logrus.ParseLevel(cfg.Log.Level) // validated by config.Load
	logger.SetLevel(level)

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	scheme, err := service.NewPasswordScheme(cfg.Auth.PasswordScheme)
	if err != nil {
		return err
	}
	users := service.NewUserService(sqlite.NewUserRepository(db), scheme, logger)
	if err := users.Init(ctx); err != nil {
		return err
	}

	switch cmd {
	case "init":
		logger.WithField("path", cfg.Database.Path).Info("user store ready")
		return nil
	case "register":
		return runRegister(ctx, users, rest, stdout, stderr)
	case "login":
		return runLogin(ctx, users, rest, stdout, stderr)
	case "list":
		return runList(ctx, users, stdout)
	case "serve":
		return runServe(ctx, cfg, users, logger)
	case "backup":
		return runBackup(ctx, cfg, db, logger, *listBackups, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}

func passwordArg(args []string, idx int, stderr io.Writer) (string, error) {
	if len(args) > idx {
		return args[idx], nil
	}
	fmt.Fprint(stderr, "Enter password: ")
	pw, err := readPassword()
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}

func runRegister(ctx context.Context, users service.UserService, args []string, stdout, stderr io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(stderr, "usage: usersctl register <username> <email> [password]")
		return errUsage
	}
	password, err := passwordArg(args, 2, stderr)
	if err != nil {
		return err
	}

	user, err := users.Register(ctx, args[0], args[1], password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "registered %s\n", user.Username)
	return nil
}

func runLogin(ctx context.Context, users service.UserService, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(stderr, "usage: usersctl login <username> [password]")
		return errUsage
	}
	password, err := passwordArg(args, 1, stderr)
	if err != nil {
		return err
	}

	user, err := users.Authenticate(ctx, args[0], password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "authenticated %s <%s>\n", user.Username, user.Email)
	return nil
}

func runList(ctx context.Context, users service.UserService, stdout io.Writer) error {
	all, err := users.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tEMAIL")
	for _, u := range all {
		fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.Email)
	}
	return tw.Flush()
}

func runServe(ctx context.Context, cfg config.Config, users service.UserService, logger *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(users, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
	return nil
}

func runBackup(ctx context.Context, cfg config.Config, db *sql.DB, logger *logrus.Logger, list bool, stdout io.Writer) error {
	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}
	backups := service.NewBackupService(db, store, service.BackupConfig{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}, logger)

	if list {
		objects, err := backups.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tSIZE\tLAST MODIFIED")
		for _, obj := range objects {
			modified := ""
			if obj.LastModified != nil {
				modified = obj.LastModified.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", obj.Key, obj.Size, modified)
		}
		return tw.Flush()
	}

	location, err := backups.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, location)
	return nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
