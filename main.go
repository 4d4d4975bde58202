package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/migadu/filterd/config"
	"github.com/migadu/filterd/directory"
	"github.com/migadu/filterd/dkim"
	"github.com/migadu/filterd/logger"
	"github.com/migadu/filterd/server/api"
	"github.com/migadu/filterd/server/delivery"
	"github.com/migadu/filterd/server/sieveengine"
	"github.com/migadu/filterd/storage"
)

func main() {
	// Initialize with application defaults
	cfg := config.NewDefaultConfig()

	// --- Define Command-Line Flags ---
	// These flags override values from the config file if set. Their
	// default values come from the initial cfg for consistent -help.

	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	fCheck := flag.Bool("check", false, "Validate the configuration and compile all scripts, then exit")

	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stderr', 'stdout', 'syslog' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: debug, info, warn, error (overrides config)")

	fHostname := flag.String("hostname", cfg.Server.Hostname, "Server hostname (overrides config)")

	fRelayAddr := flag.String("relayaddr", cfg.Relay.Addr, "Outbound relay host:port (overrides config)")

	fStartHTTPAPI := flag.Bool("httpapi", cfg.HTTPAPI.Start, "Start the HTTP API server (overrides config)")
	fHTTPAPIAddr := flag.String("httpapiaddr", cfg.HTTPAPI.Addr, "HTTP API server address (overrides config)")
	fAPIKey := flag.String("apikey", cfg.HTTPAPI.APIKey, "HTTP API bearer token (overrides config)")

	fMetrics := flag.Bool("metrics", cfg.Metrics.Enabled, "Serve Prometheus metrics (overrides config)")
	fMetricsAddr := flag.String("metricsaddr", cfg.Metrics.Addr, "Metrics server address (overrides config)")

	fS3Endpoint := flag.String("s3endpoint", "", "S3 endpoint for script sources (overrides config)")
	fS3AccessKey := flag.String("s3accesskey", "", "S3 access key (overrides config)")
	fS3SecretKey := flag.String("s3secretkey", "", "S3 secret key (overrides config)")

	flag.Parse()

	// --- Load Configuration from TOML File ---
	// Values from the TOML file override the application defaults and
	// are in turn overridden by explicitly set command-line flags.
	if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			if isFlagSet("config") {
				logger.Fatal("specified configuration file not found", "path", *configPath, "error", err)
			}
			logger.Warn("default configuration file not found, using application defaults and flags", "path", *configPath)
		} else {
			logger.Fatal("error parsing configuration file", "path", *configPath, "error", err)
		}
	}

	if isFlagSet("logoutput") {
		cfg.Logging.Output = *fLogOutput
	}
	if isFlagSet("loglevel") {
		cfg.Logging.Level = *fLogLevel
	}
	if isFlagSet("hostname") {
		cfg.Server.Hostname = *fHostname
	}
	if isFlagSet("relayaddr") {
		cfg.Relay.Addr = *fRelayAddr
	}
	if isFlagSet("httpapi") {
		cfg.HTTPAPI.Start = *fStartHTTPAPI
	}
	if isFlagSet("httpapiaddr") {
		cfg.HTTPAPI.Addr = *fHTTPAPIAddr
	}
	if isFlagSet("apikey") {
		cfg.HTTPAPI.APIKey = *fAPIKey
	}
	if isFlagSet("metrics") {
		cfg.Metrics.Enabled = *fMetrics
	}
	if isFlagSet("metricsaddr") {
		cfg.Metrics.Addr = *fMetricsAddr
	}
	if isFlagSet("s3endpoint") {
		if cfg.S3 == nil {
			cfg.S3 = &config.S3Config{}
		}
		cfg.S3.Endpoint = *fS3Endpoint
	}
	if isFlagSet("s3accesskey") && cfg.S3 != nil {
		cfg.S3.AccessKey = *fS3AccessKey
	}
	if isFlagSet("s3secretkey") && cfg.S3 != nil {
		cfg.S3.SecretKey = *fS3SecretKey
	}

	// --- Initialize Logging ---
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		logger.Fatal("failed to initialize logging", "error", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("filterd starting", "config", *configPath)

	if cfg.Server.Hostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Server.Hostname = hostname
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and SIGTERM for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	// --- Build Collaborators ---

	signers, err := dkim.BuildTable(cfg.Signers)
	if err != nil {
		logger.Fatal("failed to build DKIM signers", "error", err)
	}

	lookups := make(map[string]directory.Lookup, len(cfg.Lookups))
	for name, lookupCfg := range cfg.Lookups {
		lookup, err := directory.OpenLookup(name, lookupCfg)
		if err != nil {
			logger.Fatal("failed to open lookup", "lookup", name, "error", err)
		}
		lookups[name] = lookup
	}

	directories := make(map[string]directory.Directory, len(cfg.Directories))
	for name, dirCfg := range cfg.Directories {
		dir, err := directory.Open(ctx, name, dirCfg)
		if err != nil {
			logger.Fatal("failed to open directory", "directory", name, "error", err)
		}
		defer dir.Close()
		directories[name] = dir
	}

	source, err := storage.New(cfg.S3)
	if err != nil {
		logger.Fatal("failed to initialize script source", "error", err)
	}

	cc := &sieveengine.ConfigContext{
		Lookups:     lookups,
		Directories: directories,
		Signers:     signers,
		Source:      source,
		Cache:       sieveengine.NewScriptCache(128, time.Hour),
	}

	core, err := sieveengine.New(ctx, &cfg.Sieve, cfg.Server.Hostname, cc)
	if err != nil {
		logger.Fatal("engine configuration failed", "error", err)
	}

	logger.Info("engine configured",
		"hostname", core.Runtime.LocalHostname(),
		"scripts", len(core.Scripts),
		"signers", len(core.Sign),
		"lookups", len(core.Lookups))

	if *fCheck {
		logger.Info("configuration check passed")
		return
	}

	relay, err := delivery.NewRelay(&cfg.Relay)
	if err != nil {
		logger.Fatal("failed to initialize relay", "error", err)
	}
	if relay == nil {
		logger.Warn("no relay configured, redirects and vacation responses stay local")
	}
	dispatcher := delivery.NewDispatcher(core, relay)

	if !cfg.HTTPAPI.Start && !cfg.Metrics.Enabled {
		logger.Fatal("no servers enabled, enable http_api or metrics (or run with -check)")
	}

	errChan := make(chan error, 2)

	if cfg.HTTPAPI.Start {
		go api.Start(ctx, core, dispatcher, api.ServerOptions{
			Addr:   cfg.HTTPAPI.Addr,
			APIKey: cfg.HTTPAPI.APIKey,
		}, errChan)
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
			go func() {
				<-ctx.Done()
				_ = server.Close()
			}()
			logger.Info("starting metrics server", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				errChan <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("filterd stopped")
	case err := <-errChan:
		logger.Fatal("server error", "error", err)
	}
}

// isFlagSet reports whether a flag was explicitly set on the command line.
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
