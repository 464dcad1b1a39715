package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"aepblueprint/internal/app"
	"aepblueprint/internal/db"
	"aepblueprint/internal/outline"
	"aepblueprint/internal/platform/logger"
	"aepblueprint/internal/realtime"
	"aepblueprint/internal/store"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(app.LoadConfig(), os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// cli holds the flags shared by every subcommand.
type cli struct {
	cfg     app.Config
	driver  string
	dsn     string
	logMode string
	out     io.Writer
}

// session is one open database plus the façade over it.
type session struct {
	conn    *sql.DB
	dialect db.Dialect
	svc     *outline.Service
	bus     *realtime.RedisBus
	log     *logger.Logger
}

func newRootCmd(cfg app.Config, out io.Writer) *cobra.Command {
	c := &cli{cfg: cfg, out: out}

	root := &cobra.Command{
		Use:           "outlinectl",
		Short:         "Maintain the AEP blueprint outline from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.driver, "db-driver", cfg.DBDriver, "database driver (postgres or sqlite)")
	root.PersistentFlags().StringVar(&c.dsn, "dsn", cfg.DBDSN, "database DSN or sqlite path")
	root.PersistentFlags().StringVar(&c.logMode, "log", "quiet", "log output: quiet, development or production")

	root.AddCommand(
		c.migrateCmd(),
		c.importCmd(),
		c.exportCmd(),
		c.progressCmd(),
		c.reorderCmd(),
		c.repairCmd(),
	)
	return root
}

func (c *cli) logger() *logger.Logger {
	if c.logMode == "quiet" {
		return logger.Nop()
	}
	log, err := logger.New(c.logMode)
	if err != nil {
		return logger.Nop()
	}
	return log
}

func (c *cli) openDB(ctx context.Context) (*sql.DB, db.Dialect, error) {
	cfg := c.cfg
	cfg.DBDriver = c.driver
	cfg.DBDSN = c.dsn
	dbCfg, err := cfg.DB()
	if err != nil {
		return nil, "", err
	}
	conn, err := db.Open(ctx, dbCfg)
	if err != nil {
		return nil, "", fmt.Errorf("database: %w", err)
	}
	return conn, dbCfg.Dialect, nil
}

// open connects to the database. When Redis is configured, writes are
// published so running servers drop their cached reads.
func (c *cli) open(ctx context.Context) (*session, error) {
	conn, dialect, err := c.openDB(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{conn: conn, dialect: dialect, log: c.logger()}

	var pub outline.Publisher
	if c.cfg.RedisURL != "" {
		bus, err := realtime.NewRedisBus(ctx, c.cfg.RedisURL, c.cfg.RedisChannel, s.log)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("redis bus: %w", err)
		}
		s.bus = bus
		pub = bus
	}
	s.svc = outline.NewService(store.New(conn, dialect), outline.ServiceConfig{
		Publisher: pub,
		Logger:    s.log.With("component", "outlinectl"),
	})
	return s, nil
}

func (s *session) Close() {
	if s.bus != nil {
		_ = s.bus.Close()
	}
	_ = s.conn.Close()
	s.log.Sync()
}
