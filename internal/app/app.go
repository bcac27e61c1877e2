package app

import (
	"context"
	"fmt"
	"os"

	"github.com/crewjam/saml"

	"github.com/corestream/datacore/internal/audit"
	"github.com/corestream/datacore/internal/auth"
	"github.com/corestream/datacore/internal/cache"
	"github.com/corestream/datacore/internal/config"
	"github.com/corestream/datacore/internal/db"
	"github.com/corestream/datacore/internal/logger"
	"github.com/corestream/datacore/internal/mall"
	"github.com/corestream/datacore/internal/mall/memstore"
	"github.com/corestream/datacore/internal/methodcontext"
	"github.com/corestream/datacore/internal/pipeline"
	"github.com/corestream/datacore/internal/streaming"
	"github.com/corestream/datacore/internal/synchro"
	"github.com/corestream/datacore/internal/systemstreams"
)

// Application bundles every wired component; exactly one value is built in
// cmd/main.go and threaded through internal/httpapi. Components are reached
// through this value, not through package-level singletons; internal/logger's
// process-wide logger is the exception.
type Application struct {
	Config Config

	Database *db.Database
	Users    *db.UserDB
	Accesses *db.AccessDB
	Sessions *db.SessionDB

	Cache        *cache.Cache
	SessionStore *auth.SessionStore
	TokenHasher  *auth.TokenHasher

	// AuthProviders resolves auth.login calls that supply a provider name
	// plus an assertion instead of a password (internal/auth/providers.go).
	AuthProviders *auth.Registry

	Synchro *synchro.Synchro

	Mall          *mall.Mall
	SystemStreams *systemstreams.Registry
	Audit         *audit.Audit

	// Streams fans newly created events out to open events.getStreamed
	// websocket connections (internal/httpapi).
	Streams *streaming.Hub

	Pipeline *pipeline.Pipeline
}

// Config is a type alias kept local to avoid every caller importing
// internal/config directly just to build an Application.
type Config = config.Config

// New wires every component from cfg and an already-open database, then
// registers every pipeline method. Splitting db construction out of New
// lets tests pass a sqlmock-backed *db.Database.
func New(cfg Config, database *db.Database, cacheClient *cache.Cache) (*Application, error) {
	a := &Application{
		Config:   cfg,
		Database: database,
		Users:    db.NewUserDB(database.DB()),
		Accesses: db.NewAccessDB(database.DB()),
		Sessions: db.NewSessionDB(database.DB()),
		Cache:    cacheClient,
	}
	a.SessionStore = auth.NewSessionStore(cacheClient)
	a.TokenHasher = auth.NewTokenHasher()
	a.Streams = streaming.NewHub()
	a.AuthProviders = buildAuthProviders(cfg.Auth)

	a.Mall = mall.New(
		mall.NewLocalStore(database.DB()),
		memstore.New("dummy"),
	)
	a.SystemStreams = systemstreams.NewRegistry()

	storageSink := audit.NewStorageSink(a.Mall, audit.NewFilter(cfg.Audit.Include, cfg.Audit.Exclude))
	var syslogSink *audit.SyslogSink
	if cfg.Audit.SyslogAddr != "" {
		proto := cfg.Audit.SyslogProto
		if proto == "" {
			proto = "udp"
		}
		sink, err := audit.DialSyslog(proto, cfg.Audit.SyslogAddr, "datacore-api", "", audit.NewFilter(cfg.Audit.Include, cfg.Audit.Exclude))
		if err != nil {
			logger.Audit().Warn().Err(err).Msg("syslog sink disabled: dial failed")
		} else {
			syslogSink = sink
		}
	}
	a.Audit = audit.New(storageSink, syslogSink)

	synchroClient, err := synchro.New(synchro.Config{
		URL: cfg.Synchro.URL, User: cfg.Synchro.User, Password: cfg.Synchro.Password,
	}, a.handleSynchroMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize synchro: %w", err)
	}
	a.Synchro = synchroClient

	a.Pipeline = pipeline.New()
	a.registerMethods()

	return a, nil
}

// buildAuthProviders registers an alternate login provider for each one
// cfg.Auth carries settings for, skipping any with a missing prerequisite
// (an OIDC issuer that fails discovery, an unreadable SAML metadata file)
// rather than failing startup over an optional feature.
func buildAuthProviders(cfg config.AuthConfig) *auth.Registry {
	registry := auth.NewRegistry()

	if cfg.JWTProviderSecret != "" {
		registry.Register(auth.NewJWTProvider(cfg.JWTProviderSecret))
	}

	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		provider, err := auth.NewOIDCProvider(context.Background(), cfg.OIDCIssuerURL, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
		if err != nil {
			logger.GetLogger().Warn().Err(err).Msg("oidc login provider disabled: discovery failed")
		} else {
			registry.Register(provider)
		}
	}

	if cfg.SAMLEntityID != "" && cfg.SAMLAcsURL != "" && cfg.SAMLIDPMetadataPath != "" {
		raw, err := os.ReadFile(cfg.SAMLIDPMetadataPath)
		if err != nil {
			logger.GetLogger().Warn().Err(err).Str("path", cfg.SAMLIDPMetadataPath).Msg("saml login provider disabled: metadata unreadable")
		} else if metadata, err := saml.ParseMetadata(raw); err != nil {
			logger.GetLogger().Warn().Err(err).Msg("saml login provider disabled: metadata invalid")
		} else if provider, err := auth.NewSAMLProvider(cfg.SAMLEntityID, cfg.SAMLAcsURL, metadata); err != nil {
			logger.GetLogger().Warn().Err(err).Msg("saml login provider disabled")
		} else {
			registry.Register(provider)
		}
	}

	return registry
}

// handleSynchroMessage invalidates the affected user's cache on a
// cross-process notification. Whole-user actions and per-resource
// invalidations both collapse to the same cache-clearing call: this
// process's own Cache does not distinguish sub-resources finely enough to
// be worth a narrower invalidation, and over-invalidating is always safe.
func (a *Application) handleSynchroMessage(msg synchro.Message) {
	a.InvalidateUser(context.Background(), msg.UserID)
}

// Deps builds the methodcontext.Deps this Application resolves requests
// with.
func (a *Application) Deps() methodcontext.Deps {
	return methodcontext.Deps{
		Users:  &userResolver{users: a.Users, cache: a.Cache},
		Access: &accessResolver{accesses: a.Accesses, hasher: a.TokenHasher},
		Forest: &forestProvider{app: a},
	}
}

// Close releases every long-lived resource the Application opened.
func (a *Application) Close() {
	if a.Synchro != nil {
		a.Synchro.Close()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Database != nil {
		_ = a.Database.Close()
	}
}
