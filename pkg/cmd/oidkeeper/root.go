package oidkeeper

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"oidkeeper/internal/app/documents"
	"oidkeeper/internal/application/session"
	"oidkeeper/internal/config"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/infrastructure/repositories"
	"oidkeeper/internal/infrastructure/repositories/codec"
)

// StoreOpener opens the object store used by a command
type StoreOpener func(ctx context.Context, cfg repositories.Config, logger logr.Logger) (ports.ObjectStore, error)

// rootOptions holds the global flags and the state prepared before a command runs
type rootOptions struct {
	configPath string
	verbosity  int
	storeType  string
	pgURI      string
	redisAddr  string

	out       io.Writer
	errOut    io.Writer
	openStore StoreOpener

	cfg    *config.Config
	logger logr.Logger
}

func (o *rootOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to configuration file")
	fs.IntVarP(&o.verbosity, "verbosity", "v", -1, "Log verbosity (overrides config)")
	fs.StringVar(&o.storeType, "store", "", "Store type: memory, postgresql or redis (overrides config)")
	fs.StringVar(&o.pgURI, "pg-uri", "", "PostgreSQL connection URI, selects the postgresql store")
	fs.StringVar(&o.redisAddr, "redis-addr", "", "Redis address, selects the redis store")
}

// complete loads the configuration and applies the flag overrides
func (o *rootOptions) complete() error {
	cfg, err := config.NewConfig(o.configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	if o.storeType != "" {
		cfg.Store.Type = repositories.StoreType(o.storeType)
	}
	if o.pgURI != "" {
		cfg.Store.Type = repositories.StoreTypePostgreSQL
		cfg.Store.PostgreSQL.URI = o.pgURI
	}
	if o.redisAddr != "" {
		cfg.Store.Type = repositories.StoreTypeRedis
		cfg.Store.Redis.Address = o.redisAddr
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	verbosity := cfg.Log.Verbosity()
	if o.verbosity >= 0 {
		verbosity = o.verbosity
	}
	stdr.SetVerbosity(verbosity)
	o.logger = stdr.New(log.New(o.errOut, "", log.LstdFlags)).WithName(cfg.App.Name)
	o.cfg = cfg
	return nil
}

// sessions opens the configured store and a session factory over it.
// The returned cleanup closes every session and the store.
func (o *rootOptions) sessions(ctx context.Context, opts ...session.Option) (*session.Factory, ports.ObjectStore, func(), error) {
	store, err := o.openStore(ctx, o.cfg.Store, o.logger)
	if err != nil {
		return nil, nil, nil, err
	}

	opts = append([]session.Option{
		session.WithLogger(o.logger.WithName("session")),
		session.WithRetry(o.cfg.Session.Retry),
	}, opts...)
	factory := session.NewFactory(store, opts...)

	cleanup := func() {
		if err := factory.Shutdown(); err != nil {
			o.logger.Error(err, "session shutdown")
		}
		if err := store.Close(); err != nil {
			o.logger.Error(err, "store close")
		}
	}
	return factory, store, cleanup, nil
}

// documents opens the configured store and a document service over it
func (o *rootOptions) documents(ctx context.Context) (*documents.Service, func(), error) {
	factory, _, cleanup, err := o.sessions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return documents.NewService(factory), cleanup, nil
}

func (o *rootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openConfiguredStore(ctx context.Context, cfg repositories.Config, logger logr.Logger) (ports.ObjectStore, error) {
	return repositories.NewFactory(cfg, codec.NewRegistry(), logger).CreateStore(ctx)
}

// NewRootCommand creates the oidkeeper command tree
func NewRootCommand(ctx context.Context, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(ctx, out, errOut, openConfiguredStore)
}

func newRootCommand(ctx context.Context, out, errOut io.Writer, openStore StoreOpener) *cobra.Command {
	o := &rootOptions{out: out, errOut: errOut, openStore: openStore}

	cmd := &cobra.Command{
		Use:           "oidkeeper",
		Short:         "Object identity and transaction keeper over pluggable stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return o.complete()
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetContext(ctx)

	o.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newGetCommand(o),
		newQueryCommand(o),
		newPutCommand(o),
		newPatchCommand(o),
		newDeleteCommand(o),
		newMigrateCommand(o),
		newServeCommand(o),
	)
	return cmd
}
