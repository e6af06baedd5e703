package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/cache"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/logger"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/metrics"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/server"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/service"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/store"
)

var version = "0.1.0"

// Options defines all CLI flags and env vars for the feature server.
// Flags: --host, --port, --data-dir, --store, --cache, --redis-addr, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_STORE, ...
type Options struct {
	Host       string `doc:"Host to bind to" default:"0.0.0.0"`
	Port       int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir    string `doc:"Directory for the database and GeoJSON sources" default:".data"`
	Store      string `doc:"Storage backend: memory or duckdb" default:"duckdb"`
	Cache      string `doc:"FeatureCollection cache: lru, redis or none" default:"lru"`
	CacheSize  int    `doc:"Entries of the lru cache" default:"256"`
	CacheTTL   string `doc:"Lifetime of cached collections, 0 to keep until invalidated" default:"5m"`
	RedisAddr  string `doc:"Redis address for the redis cache" default:"localhost:6379"`
	RedisPool  int    `doc:"Connection pool size of the redis cache, 0 for the client default"`
	LogLevel   string `doc:"Log level: debug, info, warn or error" default:"info"`
	LogConsole bool   `doc:"Human readable console logs instead of JSON"`
}

func newLogger(opts *Options) *zerolog.Logger {
	l := logger.Build(logger.Config{
		Level:     opts.LogLevel,
		Console:   opts.LogConsole,
		Component: "geo",
	}, os.Stderr)
	slog.SetDefault(logger.NewSlog(&l))
	return &l
}

func openStore(ctx context.Context, opts *Options) (store.Store, error) {
	switch opts.Store {
	case "memory":
		return store.NewMemory(), nil
	case "duckdb":
		return store.OpenDuckDB(ctx, store.DuckDBConfig{DataDir: opts.DataDir})
	}
	return nil, fmt.Errorf("unknown store %q", opts.Store)
}

func openCache(ctx context.Context, opts *Options) (cache.Cache, error) {
	ttl, err := time.ParseDuration(opts.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("cache-ttl: %w", err)
	}
	switch opts.Cache {
	case "lru":
		return cache.NewLRU(opts.CacheSize, ttl), nil
	case "redis":
		var ropts []cache.RedisOption
		if opts.RedisPool > 0 {
			ropts = append(ropts, cache.WithPoolSize(opts.RedisPool))
		}
		return cache.NewRedis(ctx, opts.RedisAddr, ttl, ropts...)
	case "none", "":
		return cache.Noop{}, nil
	}
	return nil, fmt.Errorf("unknown cache %q", opts.Cache)
}

func newServer(ctx context.Context, opts *Options) (*server.Server, error) {
	log := newLogger(opts)
	st, err := openStore(ctx, opts)
	if err != nil {
		return nil, err
	}
	c, err := openCache(ctx, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return server.New(server.Config{
		Host:      opts.Host,
		Port:      opts.Port,
		DataDir:   opts.DataDir,
		Version:   version,
		StoreName: opts.Store,
		CacheName: opts.Cache,
	}, service.Deps{
		Store:   st,
		Cache:   c,
		Bus:     service.NewEventBus(),
		Metrics: metrics.New(version),
		Log:     log,
	}), nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

// withServer builds a server from opts, runs fn and closes the server
// before returning fn's error.
func withServer(ctx context.Context, opts *Options, fn func(*server.Server) error) (err error) {
	srv, err := newServer(ctx, opts)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()
	return fn(srv)
}

func serve(ctx context.Context, opts *Options) error {
	return withServer(ctx, opts, func(srv *server.Server) error {
		baseURL := fmt.Sprintf("http://%s:%d", displayHost(opts.Host), opts.Port)
		fmt.Println()
		fmt.Printf("Kartografische Zeitmaschine starting...\n")
		fmt.Printf("  Server:  %s\n", baseURL)
		fmt.Printf("  Data:    %s (%s, cache %s)\n", opts.DataDir, opts.Store, opts.Cache)
		fmt.Println()
		fmt.Printf("  Docs:    %s/docs\n", baseURL)
		fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
		fmt.Printf("  Metrics: %s/metrics\n", baseURL)
		fmt.Println()

		return srv.ListenAndServe(ctx)
	})
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		hooks.OnStart(func() {
			err := serve(ctx, opts)
			stop()
			if err != nil {
				fatal("Server error", err)
			}
		})
		hooks.OnStop(stop)
	})

	cli.Root().Use = "geo"
	cli.Root().Short = "Historical map feature service"
	cli.Root().Version = version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			o := *opts
			o.Store, o.Cache = "memory", "none"
			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			err := withServer(cmd.Context(), &o, func(srv *server.Server) (err error) {
				spec := srv.OpenAPI()
				if useYAML {
					output, err = yaml.Marshal(spec)
				} else {
					output, err = json.MarshalIndent(spec, "", "  ")
				}
				return err
			})
			if err != nil {
				fatal("Error exporting spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// import subcommand: load a GeoJSON file into a layer
	importCmd := &cobra.Command{
		Use:   "import <file.geojson>",
		Short: "Import a GeoJSON FeatureCollection into a layer",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			layerID, _ := cmd.Flags().GetString("layer")
			layerName, _ := cmd.Flags().GetString("name")

			var res *service.ImportResult
			err := withServer(cmd.Context(), opts, func(srv *server.Server) (err error) {
				res, err = srv.Services().Sources.ImportFile(cmd.Context(), args[0], service.ImportRequest{
					LayerID:   layerID,
					LayerName: layerName,
				})
				return err
			})
			if err != nil {
				fatal("Import failed", err)
			}
			fmt.Printf("Imported %d features into layer %s (geodata %s)\n", res.Imported, res.LayerID, res.GeoDataID)
			for _, reason := range res.Skipped {
				fmt.Printf("  skipped: %s\n", reason)
			}
		}),
	}
	importCmd.Flags().StringP("layer", "l", "", "Target layer ID, derived from the file name when empty")
	importCmd.Flags().String("name", "", "Display name for a newly created layer")
	cli.Root().AddCommand(importCmd)

	cli.Run()
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}
