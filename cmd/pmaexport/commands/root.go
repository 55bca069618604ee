package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"pmaexport/internal/components/configutil"
	"pmaexport/internal/components/telemetry"
	"pmaexport/internal/scrapers/phpmyadmin"

	"github.com/spf13/cobra"
)

type Config struct {
	Url               string           `json:"url"`
	Lang              string           `json:"lang"`
	TimeoutSeconds    int              `json:"timeout_seconds"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	Burst             int              `json:"burst"`
	CloudflareBypass  bool             `json:"cloudflare_bypass"`
	TokenSource       string           `json:"token_source"`
	MaxParallelWrites int              `json:"max_parallel_writes"`
	Telemetry         telemetry.Config `json:"telemetry"`
}

type rootOptions struct {
	url      string
	lang     string
	config   string
	verbose  bool
	dumpHttp string
}

// loadConfig reads the config file and lets flags that were set on the
// command line win over it. A missing config file is only an error when it
// was asked for explicitly.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](o.config)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		err = nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", o.config, err)
	}

	if cmd.Flags().Changed("url") || cfg.Url == "" {
		cfg.Url = o.url
	}
	if cmd.Flags().Changed("lang") || cfg.Lang == "" {
		cfg.Lang = o.lang
	}
	if cfg.Url == "" {
		return Config{}, errors.New("the console url must be given with --url or in the config file")
	}
	return cfg, nil
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "pmaexport",
		Short: "pmaexport bulk exports databases through a phpMyAdmin console.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			telemetry.InitSlog(cmd.ErrOrStderr(), opts.verbose)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.url, "url", "u", "", "The base url of the phpMyAdmin console.")
	flags.StringVarP(&opts.lang, "lang", "l", phpmyadmin.DefaultLang, "The console language used for the session.")
	flags.StringVar(&opts.config, "config", "pmaexport.json5", "The config file, <name>.local.json5 overrides it.")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug information.")
	flags.StringVar(&opts.dumpHttp, "dump-http", "", "Write every console request and response to this directory, credentials redacted.")

	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newExportAllCmd(opts))
	return rootCmd
}

func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
