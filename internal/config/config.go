// Package config loads MgxMonitor's configuration from a section.key style
// file (ini/yaml/toml, resolved by viper from extension) with environment
// variable overrides, and exposes it as a typed, explicitly-passed struct —
// no package-level singleton lookups.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors every section.key recognized by spec.md §6.
type Config struct {
	System   SystemConfig
	Database DatabaseConfig
	S3       S3Config
	Rating   RatingConfig
	WordPress WordPressConfig
}

type SystemConfig struct {
	Parser    string
	WorkDir   string
	LogDir    string
	UploadDir string
	BackupDir string
	TmpDir    string
	ErrorDir  string
	LangDir   string
	TmpPrefix string
	LogLevel  string
	LogDest   string
	MapDest   string
	MapDir    string
	MapDirS3  string
	EchoSQL   bool
}

type DatabaseConfig struct {
	Sqlite string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Secure    bool
	RecordDir string
}

type RatingConfig struct {
	DurationThreshold int
	BatchSize         int
	LockFile          string
	KFactor           int
}

type WordPressConfig struct {
	URL          string
	LoginExpire  time.Duration
}

// Load reads configuration from path (may be empty — viper then relies
// entirely on defaults and env vars) and returns a validated Config.
func Load(path string) (*Config, error) {
	cfg, err := build(path)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Sqlite == "" {
		return nil, fmt.Errorf("config: database.sqlite is required")
	}
	return cfg, nil
}

// Default returns the configuration a fresh install would use: every
// section.key at its documented default, with no database.sqlite
// validation. Used by the /system/config/default admin endpoint, which
// reports defaults regardless of whether a real database is configured.
func Default() (*Config, error) {
	return build("")
}

func build(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MGXHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &Config{
		System: SystemConfig{
			Parser:    v.GetString("system.parser"),
			WorkDir:   v.GetString("system.workdir"),
			LogDir:    v.GetString("system.logdir"),
			UploadDir: v.GetString("system.uploaddir"),
			BackupDir: v.GetString("system.backupdir"),
			TmpDir:    v.GetString("system.tmpdir"),
			ErrorDir:  v.GetString("system.errordir"),
			LangDir:   v.GetString("system.langdir"),
			TmpPrefix: v.GetString("system.tmpprefix"),
			LogLevel:  v.GetString("system.loglevel"),
			LogDest:   v.GetString("system.logdest"),
			MapDest:   v.GetString("system.mapdest"),
			MapDir:    v.GetString("system.mapdir"),
			MapDirS3:  v.GetString("system.mapdirs3"),
			EchoSQL:   v.GetString("system.echosql") == "on",
		},
		Database: DatabaseConfig{
			Sqlite: v.GetString("database.sqlite"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("s3.endpoint"),
			AccessKey: v.GetString("s3.accesskey"),
			SecretKey: v.GetString("s3.secretkey"),
			Region:    v.GetString("s3.region"),
			Bucket:    v.GetString("s3.bucket"),
			Secure:    v.GetBool("s3.secure"),
			RecordDir: v.GetString("s3.recorddir"),
		},
		Rating: RatingConfig{
			DurationThreshold: v.GetInt("rating.durationthreshold"),
			BatchSize:         v.GetInt("rating.batchsize"),
			LockFile:          v.GetString("rating.lockfile"),
			KFactor:           v.GetInt("rating.kfactor"),
		},
		WordPress: WordPressConfig{
			URL:         v.GetString("wordpress.url"),
			LoginExpire: v.GetDuration("wordpress.login_expire"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.tmpprefix", "mgxhub_")
	v.SetDefault("system.loglevel", "INFO")
	v.SetDefault("system.logdest", "console")
	v.SetDefault("system.mapdest", "local")
	v.SetDefault("rating.durationthreshold", 900_000)
	v.SetDefault("rating.batchsize", 150_000)
	v.SetDefault("rating.lockfile", "/tmp/mgxhub_elo_calc_process.lock")
	v.SetDefault("rating.kfactor", 32)
	v.SetDefault("wordpress.login_expire", "60m")
	v.SetDefault("s3.secure", true)
	v.SetDefault("s3.recorddir", "records")
}
