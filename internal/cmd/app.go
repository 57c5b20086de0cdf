package cmd

import (
	"context"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/authz"
	"github.com/felixgeelhaar/kbadmin/internal/config"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/log"
	"github.com/felixgeelhaar/kbadmin/internal/platform"
	"github.com/felixgeelhaar/kbadmin/internal/storage"
)

// App holds the wired components every command works with.
type App struct {
	Config *config.Config
	Logger *log.Logger
	Store  *auth.Store
	Expiry *auth.ExpirationBroadcaster
	Client *platform.Client
	Guard  *authz.Guard

	Ephemeral storage.Backend
	Durable   storage.Backend
}

// AppOption customises NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	ephemeral storage.Backend
	logger    *log.Logger
}

// WithEphemeralBackend replaces the file-backed ephemeral tier, e.g. with a
// memory backend for a single console process.
func WithEphemeralBackend(b storage.Backend) AppOption {
	return func(o *appOptions) { o.ephemeral = b }
}

// WithAppLogger overrides the logger built from the configuration.
func WithAppLogger(l *log.Logger) AppOption {
	return func(o *appOptions) { o.logger = l }
}

// NewApp wires storage, session store, transport, client and guard from cfg.
// The store is not initialized.
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppOption) (*App, error) {
	o := appOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.New(cfg.LoggerConfig())
	}

	scope := cfg.Storage.Scope
	if scope == "" {
		scope = storage.DefaultScope()
	}
	ephemeral := o.ephemeral
	if ephemeral == nil {
		ephemeral = storage.NewFileBackend(storage.EphemeralDir(cfg.Storage.EphemeralDir, scope))
	}
	durable := storage.NewFileBackend(storage.DurableDir(cfg.Storage.DurableDir))

	adapterOpts := []storage.Option{storage.WithLogger(logger)}
	if cfg.Storage.Passphrase != "" {
		sealer, err := storage.NewPassphraseSealer(cfg.Storage.Passphrase)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStorageSeal, "creating durable tier sealer", err)
		}
		adapterOpts = append(adapterOpts, storage.WithSealer(storage.Durable, sealer))
	}
	tiers := storage.NewAdapter(storage.Namespace(cfg.Provider.URL), ephemeral, durable, adapterOpts...)

	store := auth.NewStore(tiers, logger)
	expiry := auth.NewExpirationBroadcaster(store, logger)

	clientOpts := []platform.Option{
		platform.WithTimeout(cfg.Provider.Timeout),
		platform.WithExpireOnForbidden(cfg.Provider.ExpireOnForbidden),
		platform.WithLogger(logger),
	}
	if cfg.Provider.ValidateContract {
		contract, err := platform.LoadContract(ctx)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, platform.WithContract(contract, cfg.Provider.StrictContract))
	}
	client := platform.NewClient(cfg.Provider.URL, store, expiry, clientOpts...)

	policy := authz.DefaultPolicy()
	if cfg.Policy.File != "" {
		p, err := authz.LoadPolicyFile(cfg.Policy.File)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	guard := authz.NewGuard(policy, authz.DefaultRoutes(), store, logger)

	logger.Debug("app wired",
		"provider", cfg.Provider.URL,
		"scope", scope,
		"contract", cfg.Provider.ValidateContract,
		"sealed", cfg.Storage.Passphrase != "")

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Expiry: expiry,
		Client: client,
		Guard:  guard,

		Ephemeral: ephemeral,
		Durable:   durable,
	}, nil
}

// Start initializes the session store and reports whether a session exists.
func (a *App) Start(ctx context.Context) bool {
	return a.Store.Initialize(ctx)
}
