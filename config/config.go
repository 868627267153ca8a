// Package config loads server configuration from config.toml and KENNEL_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/logger"
)

const envPrefix = "KENNEL"

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Log      logger.Config
	HTTP     HTTPConfig
	Pricing  []PricingVersion
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

type DatabaseConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// PricingVersion is one [[pricing]] entry. Money values are strings so they
// reach decimal.Decimal without passing through float64.
type PricingVersion struct {
	Version       string `mapstructure:"version"`
	EffectiveFrom string `mapstructure:"effective_from"`
	BlockSize     int    `mapstructure:"block_size"`
	BlockPrice    string `mapstructure:"block_price"`
	EvalPrice     string `mapstructure:"eval_price"`
	VATRate       string `mapstructure:"vat_rate"`
}

// Load reads configuration. Priority, highest first:
//  1. KENNEL_ environment variables (e.g. KENNEL_DATABASE_DSN)
//  2. the config file: path if non-empty, else config.toml in . or /etc/kennel
//  3. built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kennel")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:       v.GetString("database.driver"),
			DSN:          v.GetString("database.dsn"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
		},
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
	}
	if err := v.UnmarshalKey("pricing", &cfg.Pricing); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = []PricingVersion{defaultPricingVersion()}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kennel-billing")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "file:kennel.db?_foreign_keys=on&_busy_timeout=5000")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.cors_allow_origins", []string{"http://localhost:5173"})
}

func defaultPricingVersion() PricingVersion {
	p := billing.DefaultPricing()
	return PricingVersion{
		Version:       p.Version,
		EffectiveFrom: p.EffectiveFrom.String(),
		BlockSize:     p.BlockSize,
		BlockPrice:    p.BlockPrice.StringFixed(2),
		EvalPrice:     p.EvalPrice.StringFixed(2),
		VATRate:       p.VATRate.String(),
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1, got %d", c.Database.MaxOpenConns)
	}
	if c.App.Port == "" {
		return errors.New("app.port is required")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := c.PricingSchedule(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether app.env is "production".
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// PricingSchedule converts the configured versions.
func (c *Config) PricingSchedule() (*billing.PricingSchedule, error) {
	versions := make([]billing.Pricing, 0, len(c.Pricing))
	for i, pv := range c.Pricing {
		p, err := pv.toPricing()
		if err != nil {
			return nil, fmt.Errorf("pricing[%d]: %w", i, err)
		}
		versions = append(versions, p)
	}
	return billing.NewPricingSchedule(versions...)
}

func (pv PricingVersion) toPricing() (billing.Pricing, error) {
	from, err := billing.ParseMonth(pv.EffectiveFrom)
	if err != nil {
		return billing.Pricing{}, err
	}
	p := billing.Pricing{
		Version:       pv.Version,
		EffectiveFrom: from,
		BlockSize:     pv.BlockSize,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"block_price", pv.BlockPrice, &p.BlockPrice},
		{"eval_price", pv.EvalPrice, &p.EvalPrice},
		{"vat_rate", pv.VATRate, &p.VATRate},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return billing.Pricing{}, &billing.ValidationError{Field: "pricing." + f.name, Message: fmt.Sprintf("not a decimal: %q", f.raw)}
		}
		*f.dst = d
	}
	return p, nil
}
