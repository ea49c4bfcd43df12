package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatgate/chatgate/internal/admin"
	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/database"
	"github.com/chatgate/chatgate/internal/gateway"
	"github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/quota"
	"github.com/chatgate/chatgate/internal/server"
)

// Server command flags
var (
	serverEnvFile      string
	serverListenAddr   string
	serverAdminAddr    string
	serverDatabasePath string
	serverLogLevel     string
	serverLogFile      string
	debugMode          bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway and management API",
	Long:  `Start the forwarding gateway and the JSON management API.`,
	Run:   runServer,
}

func init() {
	serverCmd.Flags().StringVar(&serverEnvFile, "env", config.EnvOrDefault("ENV", ".env"), "Path to .env file")
	serverCmd.Flags().StringVar(&serverListenAddr, "addr", config.EnvOrDefault("LISTEN_ADDR", ""), "Gateway listen address (overrides env var)")
	serverCmd.Flags().StringVar(&serverAdminAddr, "admin-addr", config.EnvOrDefault("ADMIN_LISTEN_ADDR", ""), "Management API listen address (overrides env var)")
	serverCmd.Flags().StringVar(&serverDatabasePath, "db", config.EnvOrDefault("DATABASE_PATH", ""), "Path to SQLite database (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogLevel, "log-level", config.EnvOrDefault("LOG_LEVEL", ""), "Log level: debug, info, warn, error (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogFile, "log-file", config.EnvOrDefault("LOG_FILE", ""), "Path to log file (overrides env var, default: stdout)")
	serverCmd.Flags().BoolVarP(&debugMode, "debug", "v", false, "Enable debug logging (overrides log-level)")
}

func runServer(cmd *cobra.Command, args []string) {
	if _, err := os.Stat(serverEnvFile); err == nil {
		if err := godotenv.Load(serverEnvFile); err != nil {
			log.Printf("Warning: Error loading %s file: %v", serverEnvFile, err)
		} else {
			log.Printf("Loaded environment from %s", serverEnvFile)
		}
	}

	// Apply command line overrides to environment variables
	overrides := map[string]string{
		"LISTEN_ADDR":       serverListenAddr,
		"ADMIN_LISTEN_ADDR": serverAdminAddr,
		"DATABASE_PATH":     serverDatabasePath,
		"LOG_LEVEL":         serverLogLevel,
		"LOG_FILE":          serverLogFile,
	}
	for key, value := range overrides {
		if value != "" {
			if err := os.Setenv(key, value); err != nil {
				log.Fatalf("Failed to set %s environment variable: %v", key, err)
			}
		}
	}
	if debugMode || os.Getenv("DEBUG") == "1" {
		_ = os.Setenv("LOG_LEVEL", "debug")
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := zapLogger.Sync(); err != nil {
			if !strings.Contains(err.Error(), "inappropriate ioctl for device") {
				log.Printf("Error syncing zap logger: %v", err)
			}
		}
	}()

	// Fail fast if the configured addresses are already in use
	for _, addr := range []string{cfg.ListenAddr, cfg.AdminListenAddr} {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			zapLogger.Fatal("Listen address unavailable (already in use?)",
				zap.String("addr", addr), zap.Error(err))
		}
		_ = ln.Close()
	}

	dbConfig := database.DefaultConfig()
	if cfg.DatabasePath != "" {
		dbConfig.Path = cfg.DatabasePath
	}
	if cfg.DatabasePoolSize > 0 {
		dbConfig.MaxOpenConns = cfg.DatabasePoolSize
	}
	db, err := database.New(dbConfig)
	if err != nil {
		zapLogger.Fatal("Failed to connect to SQLite database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	if cfg.DatabasePath == ":memory:" {
		zapLogger.Info("Connected to in-memory SQLite database")
	} else {
		zapLogger.Info("Connected to SQLite database", zap.String("path", cfg.DatabasePath))
	}

	var enforcer quota.Enforcer
	switch cfg.QuotaBackend {
	case config.QuotaBackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()
		enforcer = quota.NewRedisEnforcer(redisClient, db, cfg.QuotaKeyPrefix)
		zapLogger.Info("Quota backend: Redis", zap.String("addr", cfg.RedisAddr))
	default:
		enforcer = quota.NewStoreEnforcer(db)
		zapLogger.Info("Quota backend: SQLite")
	}

	rules, err := gateway.LoadRules(cfg.RewriteRulesPath)
	if err != nil {
		zapLogger.Fatal("Failed to load rewrite rules", zap.Error(err))
	}

	handler := gateway.New(gateway.Config{
		Keys:           db,
		Settings:       db,
		Enforcer:       enforcer,
		Relay:          gateway.NewRelay(cfg.UpstreamTimeout, zapLogger),
		Rules:          rules,
		Logger:         zapLogger,
		MaxRequestSize: cfg.MaxRequestSize,
	})
	gatewaySrv := server.New(cfg, handler, zapLogger)
	adminSrv := admin.NewServer(cfg, db, db, zapLogger)

	errCh := make(chan error, 2)
	go func() { errCh <- gatewaySrv.Start() }()
	go func() { errCh <- adminSrv.Start() }()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLogger.Error("Server failed", zap.Error(err))
		}
	case sig := <-done:
		zapLogger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gatewaySrv.Shutdown(ctx); err != nil {
		zapLogger.Error("Gateway shutdown failed", zap.Error(err))
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		zapLogger.Error("Management API shutdown failed", zap.Error(err))
	}
}
