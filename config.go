package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind        string
	catalog     string
	idleTimeout time.Duration
	origins     []string
	port        int
	prefix      string
	profile     bool
	retention   time.Duration
	store       string
	tlsCert     string
	tlsKey      string
	verbose     bool
	version     bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.catalog == "" {
		return errors.New("a catalog file must be provided via --catalog")
	}
	if c.store == "" {
		return errors.New("a store path must be provided via --store")
	}
	if c.retention <= 0 {
		return fmt.Errorf("invalid retention window: %s", c.retention)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DRAFTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "draftbox",
		Short:         "A realtime draft room server, where participants take turns claiming items from a shared pool.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: DRAFTBOX_BIND)")
	fs.StringVarP(&cfg.catalog, "catalog", "c", "catalog.csv", "path to the draftable item catalog csv (env: DRAFTBOX_CATALOG)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 60*time.Minute, "time before idle in-memory rooms are evicted (env: DRAFTBOX_IDLE_TIMEOUT)")
	fs.StringSliceVar(&cfg.origins, "origin", nil, "allowed websocket origins, repeatable; empty allows all (env: DRAFTBOX_ORIGIN)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: DRAFTBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: DRAFTBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: DRAFTBOX_PROFILE)")
	fs.DurationVar(&cfg.retention, "retention", 24*time.Hour, "time finished drafts are retained in the store (env: DRAFTBOX_RETENTION)")
	fs.StringVarP(&cfg.store, "store", "s", "draftbox.db", "path to the sqlite room store (env: DRAFTBOX_STORE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: DRAFTBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: DRAFTBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: DRAFTBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: DRAFTBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("draftbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
