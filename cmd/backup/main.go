// Command backup snapshots, lists and restores the inscriptions table.
//
//	backup                 write backups/backup_<timestamp>.json
//	restore [file]         replace the table with a snapshot (asks first)
//	list                   describe the snapshots on disk
//	keygen                 print a fresh ENCRYPTION_KEY
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/tbourn/go-inscriptions/internal/cli"
	"github.com/tbourn/go-inscriptions/internal/config"
	"github.com/tbourn/go-inscriptions/internal/observability"
	"github.com/tbourn/go-inscriptions/internal/repo"
	"github.com/tbourn/go-inscriptions/internal/services"
	"github.com/tbourn/go-inscriptions/internal/sysutil"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.LoadForBackup()
	if err != nil {
		sysutil.SetupLogging("info", false, os.Stderr)
		log.Error().Err(err).Msg("config")
		return 1
	}
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version))
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	app := &cli.App{
		Open: func(ctx context.Context) (cli.Store, func() error, error) {
			db, err := repo.Open(cfg.DB)
			if err != nil {
				return nil, nil, err
			}
			if cfg.OTEL.Enabled {
				if err := repo.EnableTracing(db); err != nil {
					log.Warn().Err(err).Msg("gorm tracing")
				}
			}
			if err := repo.AutoMigrate(db); err != nil {
				_ = repo.Close(db)
				return nil, nil, err
			}
			svc := &services.BackupService{DB: db, Dir: cfg.BackupDir}
			return svc, func() error { return repo.Close(db) }, nil
		},
		Files:       &services.BackupService{Dir: cfg.BackupDir},
		In:          os.Stdin,
		Out:         os.Stdout,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	return app.Run(ctx, os.Args[1:])
}
