// Package config loads the aird runtime configuration with the precedence
// explicit flag > config file > environment > built-in default.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// EnvToken is the environment variable consulted for the access token when
// neither the -token flag nor the config file provides one.
const EnvToken = "AIRD_ACCESS_TOKEN"

const defaultPort = 8000

// Config is intentionally small and JSON-friendly.
type Config struct {
	// Root is the directory tree aird exposes. Canonicalized once by
	// Finalize; immutable afterwards.
	Root string `json:"root"`

	// Port is the TCP port to listen on. On bind conflict the server
	// retries on the next higher port.
	Port int `json:"port"`

	// Token is the shared secret compared at login.
	Token string `json:"token,omitempty"`

	// TokenBcrypt optionally replaces Token with a bcrypt hash of it
	// (generate one with "aird passwd"). When set, login verifies the
	// presented token against this hash and Token is ignored.
	TokenBcrypt string `json:"tokenBcrypt,omitempty"`

	// TokenGenerated is true when Token was invented at startup; the
	// operator must be shown the value once.
	TokenGenerated bool `json:"-"`
}

// Load builds a Config from command-line args, an optional JSON config file,
// and the environment.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("aird", flag.ContinueOnError)
	var (
		cfgPath = fs.String("config", "", "path to JSON config file")
		root    = fs.String("root", "", "root directory to serve (default: cwd)")
		port    = fs.Int("port", 0, "port to listen on (default: 8000)")
		token   = fs.String("token", "", "access token for login (default: $"+EnvToken+" or generated)")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var cfg Config
	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	// Explicit flags win over the file.
	if *root != "" {
		cfg.Root = *root
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *token != "" {
		cfg.Token = *token
		cfg.TokenBcrypt = ""
	}

	if cfg.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("getwd: %w", err)
		}
		cfg.Root = wd
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Token == "" && cfg.TokenBcrypt == "" {
		if env := os.Getenv(EnvToken); env != "" {
			cfg.Token = env
		} else {
			t, err := randomToken()
			if err != nil {
				return Config{}, err
			}
			cfg.Token = t
			cfg.TokenGenerated = true
		}
	}
	return cfg, nil
}

// Finalize canonicalizes Root (absolute, symlinks resolved) so containment
// checks compare against a stable base. Must be called once before the
// config is handed to any component.
func (c *Config) Finalize() error {
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("abs root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	st, err := os.Stat(real)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("root is not a directory: %s", c.Root)
	}
	c.Root = real
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
