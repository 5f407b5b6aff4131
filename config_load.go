package authcore

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadConfig layers configuration: DefaultConfig, then the TOML file named
// by -config (or -c), then the remaining command-line flags. Only flags
// registered here are consumed from args; unknown ones are ignored.
// The result is validated before it is returned.
func LoadConfig(args []string) (Config, error) {
	cfg := DefaultConfig()

	if path := configPath(args); path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyFlags(&cfg, filterArgs(args, overrideFlags)); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func configPath(args []string) string {
	var path string
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to TOML config file")
	fs.StringVar(&path, "c", "", "path to TOML config file (short)")
	_ = fs.Parse(filterArgs(args, []string{"-c", "-config", "--config"}))
	return path
}

var overrideFlags = []string{
	"-addr", "-metrics-addr", "-dsn", "-redis-addr", "-redis-password", "-master-key",
	"-s3-bucket", "-s3-endpoint", "-s3-region", "-log-level", "-insecure-cookies",
}

func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("authcore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Server.Addr, "addr", cfg.Server.Addr, "HTTP listen address")
	fs.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "private metrics listen address, empty to disable")
	fs.StringVar(&cfg.Database.DSN, "dsn", cfg.Database.DSN, "PostgreSQL DSN")
	fs.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address")
	fs.StringVar(&cfg.Redis.Password, "redis-password", cfg.Redis.Password, "Redis password")
	fs.StringVar(&cfg.Security.MasterKey, "master-key", cfg.Security.MasterKey, "hex encoded 32-byte master key")
	fs.StringVar(&cfg.S3.Bucket, "s3-bucket", cfg.S3.Bucket, "icon bucket")
	fs.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "S3 base endpoint")
	fs.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "S3 region")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug, info, warn or error")
	insecure := fs.Bool("insecure-cookies", !cfg.Cookie.Secure, "drop the Secure cookie attribute (local development)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	cfg.Cookie.Secure = !*insecure
	return nil
}

// filterArgs keeps the allowed flags and their values, in either
// "-flag value" or "-flag=value" form.
func filterArgs(args []string, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
		if !strings.HasPrefix(f, "--") {
			set["-"+f] = struct{}{}
		}
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if _, keep := set[name]; keep {
				out = append(out, arg)
			}
			continue
		}
		if _, keep := set[arg]; !keep {
			continue
		}
		out = append(out, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}
