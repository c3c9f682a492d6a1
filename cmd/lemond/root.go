package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"lemond/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// serveFlags collects command-line overrides. Only non-zero values are
// applied on top of defaults, config file and environment.
type serveFlags struct {
	configPath string
	capacities string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lemond",
		Short:         "Local OpenAI-compatible inference router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Example: "  lemond serve --models-file ./server_models.yaml\n" +
			"  lemond serve --max-loaded-models llm=2,embedding=1 --llamacpp rocm",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(f, lookupEnv)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	fl.StringVar(&f.cfg.Addr, "addr", "", "HTTP listen address (default 127.0.0.1:8000)")
	fl.StringVar(&f.cfg.ModelsFile, "models-file", "", "Model catalog file")
	fl.StringVar(&f.cfg.ModelsDir, "models-dir", "", "Directory scanned for *.gguf files (default ~/models)")
	fl.StringVar(&f.cfg.UserModelsFile, "user-models-file", "", "File persisting models registered through /pull")
	fl.StringVar(&f.capacities, "max-loaded-models", "", "Pool sizes: N for every category, or llm=N,embedding=N,reranking=N,audio=N")
	fl.DurationVar((*time.Duration)(&f.cfg.CapacityWait), "capacity-wait", 0, "Wait this long for a busy pool instead of failing with 503")
	fl.StringVar(&f.cfg.LlamaCppBackend, "llamacpp", "", "Default llama.cpp backend: vulkan|rocm|metal|cpu")
	fl.StringVar(&f.cfg.LlamaCppArgs, "llamacpp-args", "", "Extra llama-server arguments")
	fl.IntVar(&f.cfg.CtxSize, "ctx-size", 0, "Default context size (default 4096)")
	fl.StringVar(&f.cfg.Host, "host", "", "Bind host for backend processes (default 127.0.0.1)")
	fl.IntVar(&f.cfg.PortStart, "port-start", 0, "First port handed to backend processes")
	fl.IntVar(&f.cfg.PortEnd, "port-end", 0, "Last port handed to backend processes")
	fl.StringVar(&f.cfg.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	fl.StringVar(&f.cfg.LogFormat, "log-format", "", "Log format: json|console")
	fl.StringVar(&f.cfg.RequestLog, "request-log", "", "Per-request log level: off|error|info|debug")
	fl.BoolVar(&f.cfg.CORSEnabled, "cors", false, "Enable CORS")
	fl.StringSliceVar(&f.cfg.CORSOrigins, "cors-origins", nil, "Allowed CORS origins (comma separated)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lemond %s (%s/%s, %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}

// resolveConfig applies defaults < config file < LEMOND_* environment < flags.
func resolveConfig(f serveFlags, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	path := f.configPath
	if path == "" {
		path, _ = lookup(config.EnvPrefix + "CONFIG")
	}
	if path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = config.Merge(cfg, fileCfg)
	}
	if err := config.ApplyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	over := f.cfg
	if f.capacities != "" {
		caps, err := parseCapacities(f.capacities)
		if err != nil {
			return cfg, err
		}
		over.MaxLoadedModels = caps
	}
	cfg = config.Merge(cfg, over)
	return cfg, cfg.Validate()
}
