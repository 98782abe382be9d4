package config

import (
	"errors"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Options are the command line flags. Each one can also come from the
// environment.
type Options struct {
	ConfigPath    string `short:"c" long:"config" env:"PUSHER_CONFIG" default:"config/config.yaml" description:"Path to the YAML configuration file"`
	Once          bool   `long:"once" env:"PUSHER_ONCE" description:"Run a single cycle and exit. The dedup keys are never cleared in this mode and outlive the process, even on SIGINT or errors"`
	LogLevel      string `long:"log-level" env:"LOG_LEVEL" description:"Log level (debug, info, warn, error)"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis/Valkey address, overrides store.address"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis/Valkey password, overrides store.password"`
}

// ErrHelp is returned when the user asked for --help.
var ErrHelp = errors.New("help requested")

func ParseOptions(args []string) (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}
	return &opts, nil
}

// Apply lets command line values win over the file.
func (o *Options) Apply(c *Config) {
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.RedisAddr != "" {
		c.Store.Address = o.RedisAddr
	}
	if o.RedisPassword != "" {
		c.Store.Password = o.RedisPassword
	}
}
