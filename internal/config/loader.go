package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"Go2NetStats/internal/engine/aggregator"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML data, applies defaults and validates it.
// ${VAR_NAME} and $VAR_NAME are substituted from the environment.
func Parse(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		s := string(match)
		var name string
		if strings.HasPrefix(s, "${") {
			name = s[2 : len(s)-1]
		} else {
			name = s[1:]
		}
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		return match
	})
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Engine.IntervalWidth == "" {
		cfg.Engine.IntervalWidth = defaults.Engine.IntervalWidth
	}
	if cfg.Engine.NumWorkers <= 0 {
		cfg.Engine.NumWorkers = defaults.Engine.NumWorkers
	}
	if cfg.Engine.MACTieBreak == "" {
		cfg.Engine.MACTieBreak = defaults.Engine.MACTieBreak
	}
	if cfg.Probe.Subject == "" {
		cfg.Probe.Subject = defaults.Probe.Subject
	}
	for i := range cfg.Writers {
		w := &cfg.Writers[i]
		if w.Type == "clickhouse" && w.ClickHouse.Port == 0 {
			w.ClickHouse.Port = 9000
		}
	}
}

func validate(cfg *Config) error {
	var result *multierror.Error

	if d, err := time.ParseDuration(cfg.Engine.IntervalWidth); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid interval_width %q: %w", cfg.Engine.IntervalWidth, err))
	} else if d < time.Microsecond {
		result = multierror.Append(result, fmt.Errorf("interval_width must be at least 1us, got %s", d))
	}

	if _, err := aggregator.ParseTieBreak(cfg.Engine.MACTieBreak); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid mac_tie_break: %w", err))
	}

	for i, w := range cfg.Writers {
		if !w.Enabled {
			continue
		}
		switch w.Type {
		case "gob":
			if w.Gob.RootPath == "" {
				result = multierror.Append(result, fmt.Errorf("writers[%d]: gob.root_path is required", i))
			}
		case "sqlite":
			if w.SQLite.Path == "" {
				result = multierror.Append(result, fmt.Errorf("writers[%d]: sqlite.path is required", i))
			}
		case "clickhouse":
			if w.ClickHouse.Host == "" {
				result = multierror.Append(result, fmt.Errorf("writers[%d]: clickhouse.host is required", i))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("writers[%d]: unknown type %q", i, w.Type))
		}
	}

	return result.ErrorOrNil()
}
