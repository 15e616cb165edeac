package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/urumi/internal/endpoint"
)

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendSQS      = "sqs"
)

const (
	defaultListenAddr        = ":3005"
	defaultChartsBasePath    = "./charts"
	defaultDBPath            = "urumi.db"
	defaultDynamoDBTable     = "urumi-stores"
	defaultQueuePath         = "urumi-queue.db"
	defaultVisibilityTimeout = 10 * time.Minute
	defaultProvisionTimeout  = 5 * time.Minute
	defaultTeardownTimeout   = 5 * time.Minute
	defaultRateLimit         = 5
	defaultRateWindow        = 15 * time.Minute
	defaultReconcileInterval = time.Minute
	defaultReconcileGrace    = 15 * time.Minute
	defaultHelmBin           = "helm"
	defaultKubectlBin        = "kubectl"
	defaultAWSRegion         = "us-east-1"

	envListenAddr        = "URUMI_LISTEN_ADDR"
	envEnvironment       = "URUMI_ENVIRONMENT"
	envPublicHostSuffix  = "URUMI_PUBLIC_HOST_SUFFIX"
	envPublicIP          = "URUMI_PUBLIC_IP"
	envStorePort         = "URUMI_STORE_PORT"
	envLocalBaseDomain   = "URUMI_LOCAL_BASE_DOMAIN"
	envChartsBasePath    = "URUMI_CHARTS_BASE_PATH"
	envEnginesFile       = "URUMI_ENGINES_FILE"
	envRegistryBackend   = "URUMI_REGISTRY_BACKEND"
	envDBPath            = "URUMI_DB_PATH"
	envDynamoDBTable     = "URUMI_DYNAMODB_TABLE"
	envQueueBackend      = "URUMI_QUEUE_BACKEND"
	envQueuePath         = "URUMI_QUEUE_PATH"
	envSQSQueueURL       = "URUMI_SQS_QUEUE_URL"
	envVisibilityTimeout = "URUMI_QUEUE_VISIBILITY_TIMEOUT"
	envProvisionTimeout  = "URUMI_PROVISION_TIMEOUT"
	envTeardownTimeout   = "URUMI_TEARDOWN_TIMEOUT"
	envRateLimit         = "URUMI_RATE_LIMIT"
	envRateWindow        = "URUMI_RATE_WINDOW"
	envTrustProxyHeaders = "URUMI_TRUST_PROXY_HEADERS"
	envReconcileInterval = "URUMI_RECONCILE_INTERVAL"
	envReconcileGrace    = "URUMI_RECONCILE_GRACE"
	envHelmBin           = "URUMI_HELM_BIN"
	envKubectlBin        = "URUMI_KUBECTL_BIN"
	envAWSRegion         = "AWS_REGION"
	envLogLevel          = "URUMI_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	LogLevel   slog.Level

	Endpoint       endpoint.Config
	ChartsBasePath string
	EnginesFile    string

	RegistryBackend string
	DBPath          string
	DynamoDBTable   string

	QueueBackend      string
	QueuePath         string
	SQSQueueURL       string
	VisibilityTimeout time.Duration

	ProvisionTimeout time.Duration
	TeardownTimeout  time.Duration
	HelmBin          string
	KubectlBin       string

	RateLimit         int
	RateWindow        time.Duration
	TrustProxyHeaders bool

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	AWSRegion string
}

// Load reads configuration from environment variables with sensible
// defaults. It fails only on values that do not parse; use Validate for
// consistency checks.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        envOr(envListenAddr, defaultListenAddr),
		LogLevel:          parseLogLevel(os.Getenv(envLogLevel)),
		ChartsBasePath:    envOr(envChartsBasePath, defaultChartsBasePath),
		EnginesFile:       os.Getenv(envEnginesFile),
		RegistryBackend:   strings.ToLower(envOr(envRegistryBackend, BackendSQLite)),
		DBPath:            envOr(envDBPath, defaultDBPath),
		DynamoDBTable:     envOr(envDynamoDBTable, defaultDynamoDBTable),
		QueueBackend:      strings.ToLower(envOr(envQueueBackend, BackendSQLite)),
		QueuePath:         envOr(envQueuePath, defaultQueuePath),
		SQSQueueURL:       os.Getenv(envSQSQueueURL),
		HelmBin:           envOr(envHelmBin, defaultHelmBin),
		KubectlBin:        envOr(envKubectlBin, defaultKubectlBin),
		AWSRegion:         envOr(envAWSRegion, defaultAWSRegion),
		VisibilityTimeout: defaultVisibilityTimeout,
		ProvisionTimeout:  defaultProvisionTimeout,
		TeardownTimeout:   defaultTeardownTimeout,
		RateLimit:         defaultRateLimit,
		RateWindow:        defaultRateWindow,
		ReconcileInterval: defaultReconcileInterval,
		ReconcileGrace:    defaultReconcileGrace,
	}

	cfg.Endpoint = endpoint.Config{
		Mode:             endpoint.ParseMode(os.Getenv(envEnvironment)),
		PublicHostSuffix: os.Getenv(envPublicHostSuffix),
		LocalBaseDomain:  envOr(envLocalBaseDomain, endpoint.DefaultLocalBaseDomain),
		Port:             os.Getenv(envStorePort),
	}
	if cfg.Endpoint.PublicHostSuffix == "" {
		if ip := os.Getenv(envPublicIP); ip != "" {
			cfg.Endpoint.PublicHostSuffix = ip + ".sslip.io"
		}
	}

	var errs []error
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{envVisibilityTimeout, &cfg.VisibilityTimeout},
		{envProvisionTimeout, &cfg.ProvisionTimeout},
		{envTeardownTimeout, &cfg.TeardownTimeout},
		{envRateWindow, &cfg.RateWindow},
		{envReconcileInterval, &cfg.ReconcileInterval},
		{envReconcileGrace, &cfg.ReconcileGrace},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.env, err))
			continue
		}
		*d.dst = parsed
	}

	if v := os.Getenv(envRateLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envRateLimit, err))
		} else {
			cfg.RateLimit = n
		}
	}
	if v := os.Getenv(envTrustProxyHeaders); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envTrustProxyHeaders, err))
		} else {
			cfg.TrustProxyHeaders = b
		}
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("load config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error

	if c.Endpoint.Mode == endpoint.ModeProduction && c.Endpoint.PublicHostSuffix == "" {
		errs = append(errs, fmt.Errorf("production mode needs %s or %s", envPublicHostSuffix, envPublicIP))
	}

	switch c.RegistryBackend {
	case BackendSQLite, BackendDynamoDB:
	default:
		errs = append(errs, fmt.Errorf("%s: unknown backend %q", envRegistryBackend, c.RegistryBackend))
	}

	switch c.QueueBackend {
	case BackendSQLite:
	case BackendSQS:
		if c.SQSQueueURL == "" {
			errs = append(errs, fmt.Errorf("%s is required for the sqs queue backend", envSQSQueueURL))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown backend %q", envQueueBackend, c.QueueBackend))
	}

	if c.ProvisionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", envProvisionTimeout))
	}
	if c.TeardownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", envTeardownTimeout))
	}
	if c.VisibilityTimeout <= c.ProvisionTimeout {
		errs = append(errs, fmt.Errorf("%s (%s) must exceed %s (%s)",
			envVisibilityTimeout, c.VisibilityTimeout, envProvisionTimeout, c.ProvisionTimeout))
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("%s and %s must be positive", envRateLimit, envRateWindow))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", envReconcileInterval))
	}
	if c.ReconcileInterval > 0 && c.ReconcileGrace <= c.ProvisionTimeout {
		errs = append(errs, fmt.Errorf("%s (%s) must exceed %s (%s)",
			envReconcileGrace, c.ReconcileGrace, envProvisionTimeout, c.ProvisionTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
