// Package config parses the server's CLI flags and environment fallbacks.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the resolved server configuration.
type Config struct {
	Port int
	Bind string

	Username string
	Password string

	HQ           bool
	HQUrl        string
	HQUsername   string
	HQPassword   string
	Name         string
	StaticPath   string
	ControlDir   string
	RecordInput  bool
	DefaultCols  int
	DefaultRows  int
}

// Parse parses os.Args[1:] (or the provided args for testing) into a Config,
// applying the VIBETUNNEL_USERNAME / VIBETUNNEL_PASSWORD env fallback when the
// corresponding flag was not set. Flags always win over env.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("vtmux", flag.ContinueOnError)

	port := fs.Int("port", 4020, "port to listen on")
	bind := fs.String("bind", "0.0.0.0", "address to bind to")
	username := fs.String("username", "", "basic auth username")
	password := fs.String("password", "", "basic auth password")
	hq := fs.Bool("hq", false, "run in HQ (federation aggregator) mode")
	hqURL := fs.String("hq-url", "", "base URL of the HQ this remote registers with")
	hqUsername := fs.String("hq-username", "", "basic auth username used to register with HQ")
	hqPassword := fs.String("hq-password", "", "basic auth password used to register with HQ")
	name := fs.String("name", "", "this remote's name, required when --hq-url is set")
	staticPath := fs.String("static-path", "", "path to static web assets to serve, if any")
	controlDir := fs.String("control-dir", defaultControlDir(), "root directory for session state")
	recordInput := fs.Bool("record-input", false, "mirror input bytes into a stream-in diagnostic file")
	defaultCols := fs.Int("default-cols", 120, "default PTY width when a client omits cols")
	defaultRows := fs.Int("default-rows", 30, "default PTY height when a client omits rows")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        *port,
		Bind:        *bind,
		Username:    *username,
		Password:    *password,
		HQ:          *hq,
		HQUrl:       *hqURL,
		HQUsername:  *hqUsername,
		HQPassword:  *hqPassword,
		Name:        *name,
		StaticPath:  *staticPath,
		ControlDir:  *controlDir,
		RecordInput: *recordInput,
		DefaultCols: *defaultCols,
		DefaultRows: *defaultRows,
	}

	if cfg.Username == "" {
		cfg.Username = os.Getenv("VIBETUNNEL_USERNAME")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("VIBETUNNEL_PASSWORD")
	}

	if cfg.HQUrl != "" && cfg.Name == "" {
		return nil, fmt.Errorf("--hq-url requires --name")
	}

	return cfg, nil
}

// AuthEnabled reports whether Basic auth middleware should be installed.
func (c *Config) AuthEnabled() bool {
	return c.Username != "" || c.Password != ""
}

func defaultControlDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vibetunnel", "control")
	}
	return filepath.Join(home, ".vibetunnel", "control")
}

// ExpandHome expands a leading "~" against the server user's home directory,
// matching spec §4.1's working-directory rule and §4.8's path rules.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home directory not found: %w", err)
		}
		return home + path[1:], nil
	}
	return path, nil
}
