// Package config handles configuration for the directory CLI client.
package config

import (
	"flag"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/avoronov/userdir/internal/flagx"
)

// Config holds runtime settings for the CLI client.
type Config struct {
	// ServerAddr is the base URL of the directory API.
	ServerAddr string `env:"USERDIR_SERVER"`

	// TokenFile is where the session token is cached between invocations.
	TokenFile string `env:"USERDIR_TOKEN_FILE"`
}

func (c *Config) LoadDefaults() {
	c.ServerAddr = "http://127.0.0.1:8080"
	c.TokenFile = ""
}

// LoadConfig applies defaults, then environment variables, then the -a and
// -f command-line flags. Subcommand arguments are left untouched.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := env.Parse(cfg); err != nil {
		panic(err)
	}

	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerAddr, "a", cfg.ServerAddr, "directory server base URL")
	fs.StringVar(&cfg.TokenFile, "f", cfg.TokenFile, "session token file")
	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	return cfg
}
