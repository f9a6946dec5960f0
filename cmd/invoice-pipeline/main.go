package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *common.Config
	logger   *slog.Logger
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	common.SetDefaults(a.v)

	root := &cobra.Command{
		Use:   "invoice-pipeline",
		Short: "OCR, classify, extract and validate supplier invoices",
		Long: `invoice-pipeline turns scanned or digital invoices into validated invoice records.

Each document is checkpointed by content hash, so re-running a file only repeats the
stages that have not completed yet.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./invoices.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-file", "", "also write JSON logs to this file")
	pf.String("db-driver", "sqlite", "database driver (sqlite, postgres)")
	pf.String("dsn", "invoices.db", "database DSN or sqlite path")
	_ = a.v.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.file", pf.Lookup("log-file"))
	_ = a.v.BindPFlag("database.driver", pf.Lookup("db-driver"))
	_ = a.v.BindPFlag("database.dsn", pf.Lookup("dsn"))

	root.AddCommand(
		processCmd(a),
		batchCmd(a),
		watchCmd(a),
		exportCmd(a),
		migrateCmd(a),
		dbhealthCmd(a),
	)
	return root
}

func (a *app) init(*cobra.Command, []string) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("invoices")
		a.v.SetConfigType("yaml")
	}
	a.v.SetEnvPrefix(common.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		// a missing config file is fine, defaults and env apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	a.cfg = common.LoadConfig(a.v)
	a.logger, a.closeLog = common.SetupLogger(a.cfg.Logging.File, common.ParseLevel(a.cfg.Logging.Level))
	slog.SetDefault(a.logger)

	if err := a.cfg.Validate(); err != nil {
		return err
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
