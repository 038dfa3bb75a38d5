package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Output     OutputConfig     `mapstructure:"output"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Automation AutomationConfig `mapstructure:"automation"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// OutputConfig bounds the append-only output store. KeepOnAppend is the
// pre-append trim target, MaxTotal the hard cap after appending.
type OutputConfig struct {
	KeepOnAppend int `mapstructure:"keep_on_append"`
	MaxTotal     int `mapstructure:"max_total"`
}

type UploadConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// AutomationConfig drives the orchestrator. GraceDelay is how long an
// override trigger suspends the regular schedule before restoring it.
type AutomationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	GraceDelay       time.Duration `mapstructure:"grace_delay"`
	ExecutionLogKeep int           `mapstructure:"execution_log_keep"`
}

type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("output.keep_on_append", 100)
	v.SetDefault("output.max_total", 150)
	v.SetDefault("upload.max_rows", 5000)
	v.SetDefault("automation.enabled", true)
	v.SetDefault("automation.grace_delay", "10s")
	v.SetDefault("automation.execution_log_keep", 100)
	v.SetDefault("notify.enabled", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
