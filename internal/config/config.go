package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/homemarket/negotiation-engine/internal/domain/listing"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRaft     = "raft"
)

// RaftConfig configures the replicated store backend.
type RaftConfig struct {
	NodeID    string `yaml:"node_id"`
	Addr      string `yaml:"addr"`
	DataDir   string `yaml:"data_dir"`
	Bootstrap bool   `yaml:"bootstrap"`
	// JoinURL is the HTTP base URL of an existing member to join through.
	JoinURL string `yaml:"join_url"`
}

// Config holds service configuration.
type Config struct {
	DatabaseURL       string            `yaml:"database_url"`
	ServerAddr        string            `yaml:"server_addr"`
	MigrationsDir     string            `yaml:"migrations_dir"`
	StoreBackend      string            `yaml:"store_backend"`
	Raft              RaftConfig        `yaml:"raft"`
	MongoURI          string            `yaml:"mongo_uri"`
	MongoDatabase     string            `yaml:"mongo_database"`
	JWTSecret         string            `yaml:"jwt_secret"`
	JWTIssuer         string            `yaml:"jwt_issuer"`
	APIKeys           string            `yaml:"api_keys"`
	TrustHeader       string            `yaml:"auth_trust_header"`
	OfferPolicy       string            `yaml:"offer_policy"`
	MaxCommitAttempts int               `yaml:"max_commit_attempts"`
	RateLimitRPM      float64           `yaml:"rate_limit_rpm"`
	RateLimitBurst    int               `yaml:"rate_limit_burst"`
	RequestTimeout    time.Duration     `yaml:"request_timeout"`
	LogLevel          string            `yaml:"log_level"`
	Listings          []listing.Listing `yaml:"listings"`
}

func defaults() *Config {
	return &Config{
		ServerAddr:        "0.0.0.0:8080",
		MigrationsDir:     "internal/migrations",
		StoreBackend:      BackendPostgres,
		Raft:              RaftConfig{DataDir: "data/raft"},
		MongoDatabase:     "home_market",
		MaxCommitAttempts: 3,
		RateLimitRPM:      120,
		RateLimitBurst:    20,
		RequestTimeout:    30 * time.Second,
		LogLevel:          "info",
	}
}

// Load reads configuration from the optional YAML file named by CONFIG_FILE
// and then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		user := getenv("POSTGRES_USER", "negotiation")
		pass := getenv("POSTGRES_PASSWORD", "negotiation_pass")
		db := getenv("POSTGRES_DB", "negotiation")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}
	cfg.ServerAddr = getenv("SERVER_ADDR", cfg.ServerAddr)
	cfg.MigrationsDir = getenv("MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.StoreBackend = strings.ToLower(getenv("STORE_BACKEND", cfg.StoreBackend))

	cfg.Raft.NodeID = getenv("RAFT_NODE_ID", cfg.Raft.NodeID)
	cfg.Raft.Addr = getenv("RAFT_ADDR", cfg.Raft.Addr)
	cfg.Raft.DataDir = getenv("RAFT_DATA_DIR", cfg.Raft.DataDir)
	cfg.Raft.Bootstrap = parseBool(os.Getenv("RAFT_BOOTSTRAP"), cfg.Raft.Bootstrap)
	cfg.Raft.JoinURL = getenv("RAFT_JOIN_URL", cfg.Raft.JoinURL)

	cfg.MongoURI = getenv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getenv("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getenv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.APIKeys = getenv("API_KEYS", cfg.APIKeys)
	cfg.TrustHeader = getenv("AUTH_TRUST_HEADER", cfg.TrustHeader)
	cfg.OfferPolicy = getenv("OFFER_POLICY", cfg.OfferPolicy)
	cfg.MaxCommitAttempts = parseInt(os.Getenv("MAX_COMMIT_ATTEMPTS"), cfg.MaxCommitAttempts)
	cfg.RateLimitRPM = parseFloat(os.Getenv("RATE_LIMIT_RPM"), cfg.RateLimitRPM)
	cfg.RateLimitBurst = parseInt(os.Getenv("RATE_LIMIT_BURST"), cfg.RateLimitBurst)
	cfg.RequestTimeout = parseDuration(os.Getenv("REQUEST_TIMEOUT"), cfg.RequestTimeout)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	case BackendRaft:
		if c.Raft.NodeID == "" || c.Raft.Addr == "" {
			return errors.New("raft backend requires RAFT_NODE_ID and RAFT_ADDR")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.JWTSecret == "" && c.APIKeys == "" && c.TrustHeader == "" {
		return errors.New("no authentication configured: set JWT_SECRET, API_KEYS or AUTH_TRUST_HEADER")
	}
	for _, l := range c.Listings {
		if l.PropertyID == "" || l.SellerID == "" {
			return errors.New("listings entries need property_id and seller_id")
		}
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
