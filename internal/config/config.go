package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend: "postgres" or "memory".
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"name"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// RedisConfig configures the per-entity lock. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// NATSConfig configures notification publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// WorkflowConfig holds routing inputs. CategoriesSource is "file" (YAML at
// CategoriesFile) or "database" (expense_categories table).
type WorkflowConfig struct {
	CategoriesSource    string `mapstructure:"categories_source"`
	CategoriesFile      string `mapstructure:"categories_file"`
	DepartmentHeadAbove int64  `mapstructure:"department_head_above"`
	FinanceLeadAbove    int64  `mapstructure:"finance_lead_above"`
	GeneralManagerAbove int64  `mapstructure:"general_manager_above"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configs/config.yaml when present and applies environment
// overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
	switch c.Workflow.CategoriesSource {
	case "file":
	case "database":
		if c.Store.Backend != "postgres" {
			return fmt.Errorf("categories source %q requires the postgres store", c.Workflow.CategoriesSource)
		}
	default:
		return fmt.Errorf("unsupported categories source %q", c.Workflow.CategoriesSource)
	}
	if c.Workflow.DepartmentHeadAbove < 0 || c.Workflow.FinanceLeadAbove < 0 || c.Workflow.GeneralManagerAbove < 0 {
		return fmt.Errorf("escalation thresholds must be non-negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-workflow-engine")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.version", "dev")

	v.SetDefault("server.http_port", 8086)
	v.SetDefault("server.grpc_port", 9086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.backend", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "workflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", time.Minute)

	v.SetDefault("redis.lock_ttl", 10*time.Second)

	v.SetDefault("nats.subject_prefix", "notifications.workflow")

	v.SetDefault("workflow.categories_source", "file")
	v.SetDefault("workflow.categories_file", "configs/categories.yaml")
	v.SetDefault("workflow.department_head_above", 50000)
	v.SetDefault("workflow.finance_lead_above", 100000)
	v.SetDefault("workflow.general_manager_above", 200000)

	v.SetDefault("log.level", "info")
}

func bindEnvVariables(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", "SERVICE_NAME")
	v.BindEnv("service.environment", "SERVICE_ENV")
	v.BindEnv("service.version", "SERVICE_VERSION")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Server
	v.BindEnv("server.http_port", "HTTP_PORT")
	v.BindEnv("server.grpc_port", "GRPC_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Store
	v.BindEnv("store.backend", "STORE_BACKEND")

	// Database
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.max_conns", "DB_MAX_CONNS")
	v.BindEnv("database.min_conns", "DB_MIN_CONNS")

	// Redis
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.lock_ttl", "LOCK_TTL")

	// NATS
	v.BindEnv("nats.url", "NATS_URL")

	// Workflow
	v.BindEnv("workflow.categories_source", "CATEGORIES_SOURCE")
	v.BindEnv("workflow.categories_file", "CATEGORIES_FILE")
	v.BindEnv("workflow.department_head_above", "ESCALATION_DEPARTMENT_HEAD_ABOVE")
	v.BindEnv("workflow.finance_lead_above", "ESCALATION_FINANCE_LEAD_ABOVE")
	v.BindEnv("workflow.general_manager_above", "ESCALATION_GENERAL_MANAGER_ABOVE")
}
