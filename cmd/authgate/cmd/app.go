package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ag "github.com/panyam/authgate"
	"github.com/panyam/authgate/config"
	"github.com/panyam/authgate/oauth2"
	"github.com/panyam/authgate/passkey"
	"github.com/panyam/authgate/stores/boltstore"
	gormstore "github.com/panyam/authgate/stores/gorm"
)

// App is a fully wired authgate server.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Store  *gormstore.Store
	Gate   *ag.AuthGate

	sessions *boltstore.Store
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}
	// postgres schemas are managed by `authgate migrate`
	if cfg.Driver == "sqlite" {
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrating sqlite schema: %w", err)
		}
	}
	return db, nil
}

func newSessionManager(cfg *config.Config) (*scs.SessionManager, *boltstore.Store, error) {
	manager := scs.New()
	manager.Lifetime = cfg.Session.Lifetime
	manager.IdleTimeout = cfg.Session.IdleTimeout
	manager.Cookie.Name = strings.ToLower(cfg.Server.AppName) + "_session"
	manager.Cookie.HttpOnly = true
	manager.Cookie.Secure = cfg.Session.CookieSecure
	manager.Cookie.SameSite = http.SameSiteLaxMode
	manager.Cookie.Path = "/"

	if cfg.Session.StorePath == "" {
		return manager, nil, nil
	}
	store, err := boltstore.Open(cfg.Session.StorePath, 5*time.Minute)
	if err != nil {
		return nil, nil, err
	}
	manager.Store = store
	return manager, store, nil
}

// NewApp opens the database and session store and mounts every login method.
func NewApp(cfg *config.Config) (*App, error) {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, DB: db, Store: gormstore.New(db)}

	manager, sessions, err := newSessionManager(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.sessions = sessions

	gate := ag.New(cfg.Server.AppName, manager, app.Store, app.Store)
	if cfg.JWT.Secret != "" {
		gate.WithTokens(ag.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL))
	}

	ceremony, err := passkey.New(cfg.Passkey, gate.Sessions, app.Store, app.Store)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("passkey: %w", err)
	}
	gate.AddAuth("/passkey", passkey.NewHandler(ceremony, gate.Sessions, gate.Middleware))

	if cfg.OAuth.Enabled() {
		provider, err := oauth2.NewProvider(cfg.OAuth)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("oauth: %w", err)
		}
		coordinator := oauth2.NewCoordinator(provider, gate.Sessions, app.Store)
		base := strings.TrimSuffix(cfg.Server.BasePath, "/")
		coordinator.BasePath = base
		coordinator.DefaultLanding = base + "/account"
		if cfg.OAuth.AutoProvision {
			coordinator.Provision = oauth2.CreateUserProvisioner(app.Store)
		}
		oauth2.Mount(gate, "/oauth2", coordinator)
		gate.WithRecovery(coordinator)
		slog.Info("oauth2 login enabled", "provider", provider.Name(), "pkce", provider.SupportsPKCE())
	}

	gate.Protect("/account", serveAccount)
	app.Gate = gate
	return app, nil
}

// serveAccount is the sample protected resource. Anonymous requests go
// through the OAuth2 flow when one is configured.
func serveAccount(w http.ResponseWriter, r *http.Request) error {
	user, err := ag.RequireUser(r)
	if err != nil {
		return err
	}
	ag.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":   user.ID,
		"user_name": user.DisplayName(),
		"email":     user.Email,
		"admin":     user.Admin,
	})
	return nil
}

// Handler serves the gate under the configured base path next to the
// health and metrics endpoints.
func (a *App) Handler() http.Handler {
	root := http.NewServeMux()
	base := strings.TrimSuffix(a.Config.Server.BasePath, "/")
	if base == "" {
		root.Handle("/", a.Gate.Handler())
	} else {
		root.Handle(base+"/", http.StripPrefix(base, a.Gate.Handler()))
	}
	root.Handle("/metrics", promhttp.Handler())
	root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := a.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			ag.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		ag.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return root
}

func (a *App) Close() error {
	var errs []error
	if a.sessions != nil {
		errs = append(errs, a.sessions.Close())
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
