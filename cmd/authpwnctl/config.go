package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/datastore"
	"github.com/caarlos0/env/v11"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/panyam/authpwn"
	"github.com/panyam/authpwn/mailer"
	"github.com/panyam/authpwn/oauth2"
	fsstore "github.com/panyam/authpwn/stores/fs"
	gaestore "github.com/panyam/authpwn/stores/gae"
	gormstore "github.com/panyam/authpwn/stores/gorm"
)

// Config is read from the environment
type Config struct {
	// Storage selects the backend: gorm, fs or gae
	Storage string `env:"AUTHPWN_STORAGE" envDefault:"gorm"`

	// DSN is a postgres URL or a sqlite file path
	DSN         string `env:"AUTHPWN_DSN" envDefault:"authpwn.db"`
	AutoMigrate bool   `env:"AUTHPWN_AUTO_MIGRATE" envDefault:"true"`

	DataDir string `env:"AUTHPWN_DATA_DIR" envDefault:"./data"`

	GCPProject string `env:"AUTHPWN_GCP_PROJECT"`
	Namespace  string `env:"AUTHPWN_NAMESPACE"`

	// PasswordHash selects the hasher for new passwords: bcrypt or argon2
	PasswordHash string `env:"AUTHPWN_PASSWORD_HASH" envDefault:"bcrypt"`

	BaseURL  string `env:"AUTHPWN_BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel string `env:"AUTHPWN_LOG_LEVEL" envDefault:"info"`

	GoogleClientID   string `env:"AUTHPWN_GOOGLE_CLIENT_ID"`
	FacebookGraphURL string `env:"AUTHPWN_FACEBOOK_GRAPH_URL"`

	// FacebookPlaceholderEmail gives new Facebook users <uid>@graph.facebook.com
	FacebookPlaceholderEmail bool `env:"AUTHPWN_FACEBOOK_PLACEHOLDER_EMAIL"`

	Mail mailer.Config
}

func loadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// openStore opens the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (authpwn.Store, func(), error) {
	switch cfg.Storage {
	case "fs":
		logger.Debug("using filesystem store", "dir", cfg.DataDir)
		return fsstore.NewFSStore(cfg.DataDir), func() {}, nil

	case "gae":
		client, err := datastore.NewClient(ctx, cfg.GCPProject)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to datastore: %w", err)
		}
		return gaestore.NewStore(client, cfg.Namespace), func() { client.Close() }, nil

	case "gorm", "":
		var dialector gorm.Dialector
		if isPostgresDSN(cfg.DSN) {
			dialector = postgres.Open(cfg.DSN)
		} else {
			dialector = sqlite.Open(cfg.DSN)
		}
		db, err := gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		if !isPostgresDSN(cfg.DSN) {
			sqlDB.SetMaxOpenConns(1)
		}
		if cfg.AutoMigrate {
			if err := gormstore.AutoMigrate(db); err != nil {
				sqlDB.Close()
				return nil, nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		return gormstore.NewStore(db), func() { sqlDB.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

// newAuth wires the store, providers and mailer into an Auth
func newAuth(cfg Config, store authpwn.Store, logger *slog.Logger) *authpwn.Auth {
	auth := authpwn.NewAuth(store)
	auth.Logger = logger
	auth.BaseURL = cfg.BaseURL
	if cfg.PasswordHash == "argon2" {
		auth.Hasher = authpwn.Argon2Hasher{}
	}

	facebook := oauth2.NewFacebookResolver()
	facebook.Logger = logger
	if cfg.FacebookGraphURL != "" {
		facebook.GraphURL = cfg.FacebookGraphURL
	}
	google := oauth2.NewGoogleResolver(cfg.GoogleClientID)
	google.Logger = logger
	github := oauth2.NewGithubResolver()
	github.Logger = logger

	auth.Providers[authpwn.KindFacebook] = facebook
	auth.Providers[authpwn.KindGoogle] = google
	auth.Providers[authpwn.KindGithub] = github
	if cfg.FacebookPlaceholderEmail {
		auth.PlaceholderEmailDomains = map[authpwn.Kind]string{
			authpwn.KindFacebook: authpwn.FacebookPlaceholderDomain,
		}
	}

	if cfg.Mail.Host != "" {
		sender := mailer.NewSMTPSender(cfg.Mail)
		sender.Logger = logger
		auth.EmailSender = sender
	} else {
		auth.EmailSender = &authpwn.ConsoleEmailSender{Logger: logger}
	}
	return auth
}
