// Package main is the entry point for the gin-cerbos demo server.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/gin-cerbos/internal/auth"
	"github.com/vyrodovalexey/gin-cerbos/internal/config"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	issueToken  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	zapLogger, logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)

	if flags.issueToken != "" {
		if err := printToken(cfg, flags.issueToken); err != nil {
			logger.Fatal("failed to issue token", observability.Error(err))
		}
		return
	}

	app, err := newApplication(cfg, zapLogger, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("CERBOS_DEMO_CONFIG_PATH", "configs/demo.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("CERBOS_DEMO_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("CERBOS_DEMO_LOG_FORMAT", "json"),
		"Log format (json, console)")
	issueToken := flag.String("issue-token", "",
		"Print a bearer token for subject:role1,role2 and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		issueToken:  *issueToken,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("cerbos-gin-demo version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) (*zap.Logger, observability.Logger) {
	cfg := observability.DefaultLogConfig()
	cfg.Level = flags.logLevel
	cfg.Format = flags.logFormat

	zapLogger, err := observability.NewZapLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return zapLogger, observability.FromZap(zapLogger)
}

// loadConfig loads and validates the configuration.
func loadConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting cerbos-gin-demo",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("address", cfg.Server.Address),
		observability.String("cerbos_transport", cfg.Cerbos.Transport),
		observability.Bool("hook_enabled", cfg.Cerbos.Hook.Enabled),
		observability.Bool("auth_enabled", cfg.Auth.JWTSecret != ""),
		observability.Int("routes", len(cfg.Routes)),
	)

	return cfg
}

// printToken prints a token for "subject:role1,role2".
func printToken(cfg *config.Config, arg string) error {
	subject, rolesPart, _ := strings.Cut(arg, ":")
	var roles []string
	if rolesPart != "" {
		roles = strings.Split(rolesPart, ",")
	}

	authenticator, err := newAuthenticator(cfg, nil)
	if err != nil {
		return err
	}
	token, err := authenticator.Sign(subject, roles, time.Hour, nil)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func newAuthenticator(cfg *config.Config, logger observability.Logger) (*auth.Authenticator, error) {
	return auth.NewAuthenticator(auth.Config{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		RolesClaim: cfg.Auth.RolesClaim,
		UserKey:    cfg.Cerbos.UserKey,
	}, logger)
}
