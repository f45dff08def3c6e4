// Package cli implements cfghost-cli, the admin tool. Catalog commands
// (migrate, version, list, check, sweep, token) work on the server's
// database and store directly; push and pull talk to a running server.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/cfghost/internal/grammar"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/server"
	"github.com/dmitrijs2005/cfghost/internal/server/catalog"
	"github.com/dmitrijs2005/cfghost/internal/server/config"
	"github.com/dmitrijs2005/cfghost/internal/server/services"
)

type options struct {
	configFile string
	driver     string
	dsn        string
	backend    string
	storeDir   string
	stagingDir string
	secret     string
	logLevel   string

	serverURL string
	token     string
	jsonOut   bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "cfghost-cli",
		Short:         "Administer a cfghost catalog and store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configFile, "config", "c", "", "server JSON config file")
	pf.StringVar(&o.driver, "driver", "", "catalog driver (sqlite|postgres)")
	pf.StringVarP(&o.dsn, "dsn", "d", "", "catalog DSN")
	pf.StringVar(&o.backend, "backend", "", "artifact backend (fs|s3)")
	pf.StringVar(&o.storeDir, "store", "", "artifact directory")
	pf.StringVar(&o.stagingDir, "staging", "", "staging directory")
	pf.StringVar(&o.logLevel, "log-level", "warn", "log level")
	pf.StringVar(&o.serverURL, "server", "http://localhost:3000", "server URL for push and pull")
	pf.StringVar(&o.token, "token", "", "owner token sent with push")
	pf.BoolVar(&o.jsonOut, "json", false, "always print JSON")

	root.AddCommand(
		newMigrateCmd(o),
		newVersionCmd(o),
		newListCmd(o),
		newCheckCmd(o),
		newSweepCmd(o),
		newTokenCmd(o),
		newPushCmd(o),
		newPullCmd(o),
	)
	return root
}

// Execute runs the CLI with os.Args and reports errors on stderr.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// loadConfig starts from the server defaults, overlays --config and then
// any explicit flags.
func (o *options) loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	if o.configFile != "" {
		if err := config.LoadFile(o.configFile, cfg); err != nil {
			return nil, err
		}
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.DatabaseDriver, o.driver)
	set(&cfg.DatabaseDSN, o.dsn)
	set(&cfg.StorageBackend, o.backend)
	set(&cfg.StoreDir, o.storeDir)
	set(&cfg.StagingDir, o.stagingDir)
	set(&cfg.SecretKey, o.secret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) logger(cmd *cobra.Command) logging.Logger {
	return logging.NewJSONLogger(cmd.ErrOrStderr(), o.logLevel)
}

func (o *options) openCatalog(cmd *cobra.Command) (*catalog.Catalog, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseDSN, o.logger(cmd))
	if err != nil {
		return nil, nil, err
	}
	return cat, cfg, nil
}

// openService builds the same orchestrator the server runs, minus metrics.
func (o *options) openService(cmd *cobra.Command) (*services.ConfigService, *catalog.Catalog, *config.Config, error) {
	cat, cfg, err := o.openCatalog(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	log := o.logger(cmd)
	st, err := server.NewStore(cmd.Context(), cfg, log)
	if err != nil {
		_ = cat.Close()
		return nil, nil, nil, err
	}
	svc := services.NewConfigService(cat, st, grammar.New(cfg.MaxLineLength, cfg.MaxConfigChars), log, services.WithTimeout(cfg.OperationTimeout))
	return svc, cat, cfg, nil
}
