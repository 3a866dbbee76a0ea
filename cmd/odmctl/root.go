package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goliatone/go-odm/config"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/pkg/di"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	format     string
	container  *di.Container
}

func (a *app) collection(name string) driver.Collection {
	return a.container.Database().Collection(name)
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "odmctl",
		Short: "Inspect the collections of a document store",
		Long: `odmctl runs finds, counts, removals and index maintenance against the
document store described by the configuration file, ODM_ environment
variables or flags, in increasing order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.container == nil {
				return nil
			}
			return a.container.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (YAML)")
	flags.String("driver", "", "store driver: memory|sqlite|sqlite3|postgres")
	flags.String("dsn", "", "store data source name")
	flags.String("log-level", "", "log level: debug|info|warn|error|disabled")
	flags.StringVarP(&a.format, "output", "o", "json", "output format: json|yaml")

	_ = a.v.BindPFlag("store.driver", flags.Lookup("driver"))
	_ = a.v.BindPFlag("store.dsn", flags.Lookup("dsn"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		newFindCmd(a),
		newCountCmd(a),
		newRemoveCmd(a),
		newLoadCmd(a),
		newIndexesCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context, logOut io.Writer) error {
	if a.format != "json" && a.format != "yaml" {
		return fmt.Errorf("unknown output format %q", a.format)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := config.Decode(a.v)
	if err != nil {
		return err
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogOutput(logOut),
		di.WithRegisterer(prometheus.NewRegistry()),
	)
	if err != nil {
		return err
	}
	a.container = container
	return nil
}
