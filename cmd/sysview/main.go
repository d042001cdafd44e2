// Package main implements the sysview binary. It serves a DynamoDB-compatible
// API whose reserved namespace exposes the schema catalog as read-only
// virtual tables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sysview/sysview/internal/app"
	"github.com/sysview/sysview/internal/config"
	"github.com/sysview/sysview/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		grpcAddr    string
		catalogType string
		logLevel    string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP address of the DynamoDB API")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC server address")
	flag.StringVar(&catalogType, "catalog", "", "Catalog type: sqlite, cql")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sysview - schema catalog virtual tables over the DynamoDB API\n\n")
		fmt.Fprintf(os.Stderr, "Usage: sysview [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sysview --data-dir /data/sysview\n")
		fmt.Fprintf(os.Stderr, "  sysview --catalog cql --config /etc/sysview/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SYSVIEW_DATA_DIR                Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  SYSVIEW_HTTP_ADDR               HTTP address of the DynamoDB API\n")
		fmt.Fprintf(os.Stderr, "  SYSVIEW_GRPC_ADDR               gRPC server address\n")
		fmt.Fprintf(os.Stderr, "  SYSVIEW_CATALOG_TYPE            Catalog type (sqlite, cql)\n")
		fmt.Fprintf(os.Stderr, "  SYSVIEW_CQL_HOSTS               Comma-separated CQL contact points\n")
		fmt.Fprintf(os.Stderr, "  SYSVIEW_PRIVILEGED_ACCESS_KEYS  Access key ids allowed to read internal tables\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("sysview version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, httpAddr, grpcAddr, catalogType, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting sysview",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("data_dir", cfg.DataDir),
		zap.String("catalog", cfg.Catalog.Type))

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, httpAddr, grpcAddr, catalogType, logLevel string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Flags have the highest priority
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if catalogType != "" {
		cfg.Catalog.Type = catalogType
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	return cfg, nil
}
