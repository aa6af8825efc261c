package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is read from the YAML file passed with --config.  Command-line
// flags override it.
type Config struct {
	Alg     string    `yaml:"alg"`     // algorithm for keygen, eg. MSS-SHA2_10
	Key     string    `yaml:"key"`     // path to the private key
	Listen  string    `yaml:"listen"`  // address for serve
	Peer    string    `yaml:"peer"`    // address for send
	Metrics string    `yaml:"metrics"` // address for the /metrics endpoint
	Threads int       `yaml:"threads"` // 0 means one per CPU
	Log     LogConfig `yaml:"log"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func defaultConfig() *Config {
	return &Config{
		Alg:    "MSS-SHA2_10",
		Key:    "mss.key",
		Listen: "localhost:12800",
		Peer:   "localhost:12800",
		Log:    LogConfig{Level: "info"},
	}
}

// Reads the configuration at path on top of the defaults.  An empty path
// or an empty file returns the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Builds the logger described by conf.
func newLogger(conf LogConfig) (*zap.Logger, error) {
	zLevel := zap.NewAtomicLevel()
	if conf.Level != "" {
		if err := zLevel.UnmarshalText([]byte(strings.ToLower(conf.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q", conf.Level)
		}
	}

	zConfig := zap.Config{
		Level:             zLevel,
		Development:       conf.Development,
		Encoding:          "console",
		DisableStacktrace: !conf.Development,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "path",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zConfig.Build()
}

// Forwards the log messages of the mss package to zap.
type zapLogf struct {
	s *zap.SugaredLogger
}

func (l zapLogf) Logf(format string, a ...interface{}) {
	l.s.Debugf(format, a...)
}
