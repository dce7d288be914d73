package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/karateway/controlplane/internal/db"
)

// Config collects everything the control plane server needs.
type Config struct {
	Database db.Config

	ServerAddr     string
	AllowedOrigins []string

	// Feed
	BacklogCapacity int

	// Audit retention
	RetentionDays  int
	ReaperInterval time.Duration
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Database:        db.DefaultConfig(),
		ServerAddr:      ":8080",
		AllowedOrigins:  []string{"http://localhost:3000"},
		BacklogCapacity: 256,
		RetentionDays:   90,
		ReaperInterval:  time.Hour,
	}
}

// Load reads config.yaml from configPath, with environment overrides under
// the KARATEWAY prefix (KARATEWAY_DATABASE_HOST and so on).
func Load(configPath string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("KARATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("feed.backlog_capacity")
	v.BindEnv("audit.retention_days")
	v.BindEnv("audit.reaper_interval")

	// Config file is optional: defaults plus env vars are enough to run.
	_ = v.ReadInConfig()

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.ServerAddr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("feed.backlog_capacity") {
		cfg.BacklogCapacity = v.GetInt("feed.backlog_capacity")
	}
	if v.IsSet("audit.retention_days") {
		cfg.RetentionDays = v.GetInt("audit.retention_days")
	}
	if v.IsSet("audit.reaper_interval") {
		cfg.ReaperInterval = v.GetDuration("audit.reaper_interval")
	}

	return cfg, nil
}
