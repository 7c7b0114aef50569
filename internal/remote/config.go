// Package remote wraps a single SSH session: connect, disconnect,
// stream a command with stdout/stderr callbacks, upload files, and
// apply a per-job timeout. It never touches the database — it hands
// the worker loop a pure Result to persist.
package remote

import "time"

// Config configures one SSH session. Exactly one of Password or
// PrivateKey must be set.
type Config struct {
	Host         string
	Port         int // default 22
	Username     string
	Password     string
	PrivateKey   []byte
	Passphrase   string
	ReadyTimeout time.Duration

	// WorkingDir and Env are remote config, not SSH auth: the
	// fallback working directory when a job doesn't set one, and the
	// environment exported into every command this executor runs.
	WorkingDir string
	Env        map[string]string
}

func (c Config) port() int {
	if c.Port <= 0 {
		return 22
	}
	return c.Port
}

func (c Config) readyTimeout() time.Duration {
	if c.ReadyTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ReadyTimeout
}
