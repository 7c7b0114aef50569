// Package config loads the engine's external configuration surface:
// database DSN, queue/worker tuning, SSH target, and the admin HTTP
// listener. It reads from environment variables (prefixed RJE_) with
// an optional rje.yaml/rje.toml file as a fallback source: a key set
// in the environment wins over the same key in the file, since an
// engine embedded by an external front-end needs env-var binding more
// than a config file of its own.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database holds the Postgres connection surface.
type Database struct {
	DSN string
}

// Queue holds the default job options a newly created queue is seeded
// with when none are given explicitly.
type Queue struct {
	Name        string
	MaxAttempts int
	KeepLogs    int
}

// Worker holds the tuning knobs for a worker pool: which queue to
// drain, how many jobs to run at once, and its polling/stall timings.
type Worker struct {
	Concurrency    int
	PollInterval   time.Duration
	StalledTimeout time.Duration
}

// SSH holds the remote execution target.
type SSH struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
	Passphrase string
	WorkingDir string
}

// HTTP holds the admin surface's listen address.
type HTTP struct {
	Addr string
}

// Config is the engine's full external configuration surface. Nothing
// under internal/ parses flags or reads env vars directly; cmd/ is the
// only place a Config gets built.
type Config struct {
	Database Database
	Queue    Queue
	Worker   Worker
	SSH      SSH
	HTTP     HTTP
}

// Load reads configuration from environment variables (prefixed
// RJE_, nested fields joined with underscores, e.g. RJE_DATABASE_DSN,
// RJE_WORKER_CONCURRENCY) and, if present, a rje.yaml/rje.toml file in
// the current directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RJE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("rje")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetDefault("queue.name", "default")
	v.SetDefault("queue.maxattempts", 1)
	v.SetDefault("queue.keeplogs", 50)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.pollinterval", 5*time.Second)
	v.SetDefault("worker.stalledtimeout", 60*time.Second)
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.workingdir", "/tmp")
	v.SetDefault("http.addr", ":8080")

	var missing []string
	require := func(key string) string {
		val := v.GetString(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	cfg := &Config{
		Database: Database{DSN: require("database.dsn")},
		Queue: Queue{
			Name:        v.GetString("queue.name"),
			MaxAttempts: v.GetInt("queue.maxattempts"),
			KeepLogs:    v.GetInt("queue.keeplogs"),
		},
		Worker: Worker{
			Concurrency:    v.GetInt("worker.concurrency"),
			PollInterval:   v.GetDuration("worker.pollinterval"),
			StalledTimeout: v.GetDuration("worker.stalledtimeout"),
		},
		SSH: SSH{
			Host:       require("ssh.host"),
			Port:       v.GetInt("ssh.port"),
			Username:   require("ssh.username"),
			Password:   v.GetString("ssh.password"),
			PrivateKey: v.GetString("ssh.privatekey"),
			Passphrase: v.GetString("ssh.passphrase"),
			WorkingDir: v.GetString("ssh.workingdir"),
		},
		HTTP: HTTP{Addr: v.GetString("http.addr")},
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}
