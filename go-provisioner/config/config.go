package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dbutil"
	"github.com/timewave/rls-provisioner/go-provisioner/logger"
)

const (
	DefaultPath = "config/config.yaml"

	EnvSupabaseURL        = "PROVISIONER_SUPABASE_URL"
	EnvSupabaseKey        = "PROVISIONER_SUPABASE_SERVICE_KEY"
	EnvPostgresConnection = "PROVISIONER_POSTGRES_CONNECTION_STRING"
	EnvLogLevel           = "PROVISIONER_LOG_LEVEL"
)

type Config struct {
	LogLevel string           `mapstructure:"log_level"`
	Tables   []database.Table `mapstructure:"tables"`
	Verify   VerifyConfig     `mapstructure:"verify"`
	Database DatabaseConfig   `mapstructure:"-"`
	logger   *logger.Logger
}

type VerifyConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	HealthPort int           `mapstructure:"health_port"`
	RESTProbe  bool          `mapstructure:"rest_probe"`
}

// DatabaseConfig holds credentials. They are only ever read from the environment.
type DatabaseConfig struct {
	SupabaseURL              string
	SupabaseKey              string
	PostgresConnectionString string
}

func New(logger *logger.Logger) *Config {
	return &Config{
		logger: logger,
	}
}

// loadEnvFile loads .env.{env} from dir when present. A missing file is not an error.
func (c *Config) loadEnvFile(dir, env string) error {
	envFile := filepath.Join(dir, fmt.Sprintf(".env.%s", env))
	if _, err := os.Stat(envFile); err != nil {
		c.logger.Debug("No env file at %s", envFile)
		return nil
	}
	c.logger.Printf("Loading env file from %s", envFile)
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads the provisioning file at path and the credentials from the
// environment, after loading .env.{ENV} from the working directory.
func Load(c *Config, path string) (*Config, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = "dev" // Default to dev environment
	}
	c.logger.Printf("Loading config for env: %s", env)

	if err := c.loadEnvFile(".", env); err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("log_level", "info")
	v.SetDefault("verify.interval", "1m")
	v.SetDefault("verify.health_port", 8080)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c.logger.Printf("Loaded config file from: %s", v.ConfigFileUsed())

	config := Config{logger: c.logger}
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set credentials from environment variables
	config.Database.SupabaseURL = os.Getenv(EnvSupabaseURL)
	config.Database.SupabaseKey = os.Getenv(EnvSupabaseKey)
	config.Database.PostgresConnectionString = os.Getenv(EnvPostgresConnection)
	if level := os.Getenv(EnvLogLevel); level != "" {
		config.LogLevel = level
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the table definitions. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Tables) == 0 {
		errs = append(errs, errors.New("at least one table is required"))
	}

	seenTables := map[string]bool{}
	for i, t := range c.Tables {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: name is required", i))
			continue
		}
		key := t.QualifiedName()
		if seenTables[key] {
			errs = append(errs, fmt.Errorf("table %s: declared more than once", key))
		}
		seenTables[key] = true
		errs = append(errs, validateTable(t)...)
	}

	if c.Verify.Interval < 0 {
		errs = append(errs, errors.New("verify.interval must not be negative"))
	}
	if c.Verify.HealthPort < 0 || c.Verify.HealthPort > 65535 {
		errs = append(errs, fmt.Errorf("verify.health_port %d is out of range", c.Verify.HealthPort))
	}
	return errors.Join(errs...)
}

func validateTable(t database.Table) []error {
	var errs []error
	name := t.QualifiedName()

	if len(t.Columns) == 0 {
		errs = append(errs, fmt.Errorf("table %s: at least one column is required", name))
	}
	seenColumns := map[string]bool{}
	for i, col := range t.Columns {
		if strings.TrimSpace(col.Name) == "" {
			errs = append(errs, fmt.Errorf("table %s: columns[%d]: name is required", name, i))
			continue
		}
		if seenColumns[col.Name] {
			errs = append(errs, fmt.Errorf("table %s: column %s declared more than once", name, col.Name))
		}
		seenColumns[col.Name] = true
		if _, err := dbutil.NormalizeType(col.Type); err != nil {
			errs = append(errs, fmt.Errorf("table %s: column %s: %w", name, col.Name, err))
		}
	}

	if len(t.Policies) > 0 && !t.RLSEnabled() {
		errs = append(errs, fmt.Errorf("table %s: policies require enable_rls", name))
	}
	seenPolicies := map[string]bool{}
	for i, p := range t.Policies {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("table %s: policies[%d]: name is required", name, i))
			continue
		}
		if seenPolicies[p.Name] {
			errs = append(errs, fmt.Errorf("table %s: policy %s declared more than once", name, p.Name))
		}
		seenPolicies[p.Name] = true
		if _, err := dbutil.BuildCreatePolicy(t.SchemaName(), t.Name, p); err != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", name, err))
		}
	}
	return errs
}

// RequirePostgres returns an error naming the missing variable.
func (c *Config) RequirePostgres() error {
	if c.Database.PostgresConnectionString == "" {
		return fmt.Errorf("%s environment variable is required", EnvPostgresConnection)
	}
	return nil
}

// HasSupabase reports whether REST credentials are configured.
func (c *Config) HasSupabase() bool {
	return c.Database.SupabaseURL != "" && c.Database.SupabaseKey != ""
}
