package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects which process role main() runs.
type Mode string

const (
	ModeServer Mode = "server"
	ModeWorker Mode = "worker"
)

// PackageType selects the route set, filekey rule and rewriter used.
type PackageType string

const (
	PackagePyPI PackageType = "pypi"
	PackageNpm  PackageType = "npm"
)

// StorageDriver selects the Storage Backend implementation.
type StorageDriver string

const (
	StorageLocal StorageDriver = "local"
	StorageS3    StorageDriver = "s3"
)

type Config struct {
	// Process role / mode
	Mode        Mode
	PackageType PackageType

	// Upstream configuration
	UpstreamURL      string
	UpstreamStrict   bool
	UpstreamUsername string
	UpstreamPassword string

	// Storage configuration
	StorageDriver    StorageDriver
	FileStorageDir   string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Endpoint       string
	S3Region         string
	S3Prefix         string
	S3Public         bool
	S3KeyTTL         time.Duration
	S3ForcePathStyle bool
	S3UseSSL         bool

	// KV (Redis) configuration
	RedisURL    string
	RedisPrefix string

	// Metadata cache
	CacheTime time.Duration

	// Timeout configuration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Server configuration
	Port      string
	LogLevel  string
	LogFormat string // console or json
	LogColor  bool

	// SSL configuration
	DisableSSLVerification bool
}

func Load() *Config {
	cfg := &Config{
		Mode:        Mode(strings.ToLower(getEnv("MODE", "server"))),
		PackageType: PackageType(strings.ToLower(getEnv("PACKAGE_TYPE", "pypi"))),

		UpstreamURL:      strings.TrimSuffix(getEnv("UPSTREAM_URL", "https://pypi.org"), "/"),
		UpstreamStrict:   getBoolEnv("UPSTREAM_STRICT", false),
		UpstreamUsername: getEnv("UPSTREAM_USERNAME", ""),
		UpstreamPassword: getEnv("UPSTREAM_PASSWORD", ""),

		StorageDriver:  StorageDriver(strings.ToLower(getEnv("FILE_STORAGE_DRIVER", "local"))),
		FileStorageDir: getEnv("FILE_STORAGE_DIRECTORY", ""),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT_URL", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Prefix:       getEnv("S3_PREFIX", ""),
		S3Public:       getBoolEnv("S3_PUBLIC", false),
		S3KeyTTL:       getDurationEnv("S3_KEY_TTL", 10*time.Minute),

		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: getEnv("REDIS_PREFIX", "groxpi"),

		CacheTime: getDurationEnv("CACHE_TIME", 1800*time.Second),

		Port:                   getEnv("PORT", "5000"),
		LogLevel:               getEnv("GROXPI_LOGGING_LEVEL", "INFO"),
		LogFormat:              getEnv("GROXPI_LOG_FORMAT", "console"),
		LogColor:               getBoolEnv("GROXPI_LOG_COLOR", true),
		DisableSSLVerification: getBoolEnv("GROXPI_DISABLE_INDEX_SSL_VERIFICATION", false),
	}

	if connectTimeout := getEnv("GROXPI_CONNECT_TIMEOUT", ""); connectTimeout != "" {
		cfg.ConnectTimeout = getFloatDurationEnv("GROXPI_CONNECT_TIMEOUT", 0)
	} else {
		cfg.ConnectTimeout = 10 * time.Second
	}

	if readTimeout := getEnv("GROXPI_READ_TIMEOUT", ""); readTimeout != "" {
		cfg.ReadTimeout = getFloatDurationEnv("GROXPI_READ_TIMEOUT", 0)
	} else {
		cfg.ReadTimeout = 20 * time.Second
	}

	if cfg.FileStorageDir == "" {
		cfg.FileStorageDir = os.TempDir()
	}

	if cfg.Mode != ModeServer && cfg.Mode != ModeWorker {
		panic("MODE must be 'server' or 'worker', got: " + string(cfg.Mode))
	}

	if cfg.PackageType != PackagePyPI && cfg.PackageType != PackageNpm {
		panic("PACKAGE_TYPE must be 'pypi' or 'npm', got: " + string(cfg.PackageType))
	}

	if cfg.StorageDriver == StorageS3 {
		if cfg.S3Endpoint == "" {
			cfg.S3Endpoint = "s3.amazonaws.com"
		}
		if cfg.S3Bucket == "" {
			panic("S3_BUCKET must be set when FILE_STORAGE_DRIVER=s3")
		}
		if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			panic("S3_ACCESS_KEY and S3_SECRET_KEY must be set when FILE_STORAGE_DRIVER=s3")
		}
		cfg.S3UseSSL = getBoolEnv("GROXPI_S3_USE_SSL", true)
		cfg.S3ForcePathStyle = getBoolEnv("GROXPI_S3_FORCE_PATH_STYLE", false)
	} else if cfg.StorageDriver != StorageLocal {
		panic("FILE_STORAGE_DRIVER must be 'local' or 's3', got: " + string(cfg.StorageDriver))
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal) * time.Second
		}
	}
	return defaultValue
}

func getFloatDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(floatVal * float64(time.Second))
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value != "0" && value != "no" && value != "off" && value != "false"
}
