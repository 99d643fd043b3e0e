package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBufferSize = 3000
	DefaultBaud       = 9600
	DefaultGPSDAddr   = "127.0.0.1:2947"
)

type Config struct {
	Log     LogConfig      `yaml:"log"`
	Parser  ParserConfig   `yaml:"parser"`
	HTTP    HTTPConfig     `yaml:"http"`
	Streams []StreamConfig `yaml:"streams"`
}

type LogConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables rotated file output when Path is set.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type ParserConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// HTTPConfig serves /api/status and /metrics. An empty Listen disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type StreamConfig struct {
	Name   string  `yaml:"name"`
	Source string  `yaml:"source"`
	Device string  `yaml:"device"`
	Baud   int     `yaml:"baud"`
	Addr   string  `yaml:"addr"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
	Record string  `yaml:"record"`

	Forward []ForwardConfig `yaml:"forward"`
}

// ForwardConfig sends checksum-valid messages to Addr over UDP. An empty
// Protocols list forwards all of nmea, rtcm and ubx.
type ForwardConfig struct {
	Addr      string   `yaml:"addr"`
	Protocols []string `yaml:"protocols"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates. Unknown keys are
// rejected.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return Config{}, fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return Config{}, fmt.Errorf("log.format must be 'text' or 'json'")
	}
	if f := &cfg.Log.File; f.Path != "" {
		if f.MaxSizeMB < 0 || f.MaxBackups < 0 || f.MaxAgeDays < 0 {
			return Config{}, fmt.Errorf("log.file limits must be >= 0")
		}
		if f.MaxSizeMB == 0 {
			f.MaxSizeMB = 10
		}
	}

	if cfg.Parser.BufferSize < 0 {
		return Config{}, fmt.Errorf("parser.buffer_size must be > 0")
	}
	if cfg.Parser.BufferSize == 0 {
		cfg.Parser.BufferSize = DefaultBufferSize
	}

	if len(cfg.Streams) == 0 {
		return Config{}, fmt.Errorf("streams: at least one stream is required")
	}
	seen := map[string]bool{}
	for i := range cfg.Streams {
		if err := validateStream(i, &cfg.Streams[i], seen); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func validateStream(i int, st *StreamConfig, seen map[string]bool) error {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return fmt.Errorf("streams[%d].name is required", i)
	}
	if seen[st.Name] {
		return fmt.Errorf("streams[%d].name %q is not unique", i, st.Name)
	}
	seen[st.Name] = true

	st.Source = strings.ToLower(strings.TrimSpace(st.Source))
	if st.Source == "" {
		st.Source = "serial"
	}
	switch st.Source {
	case "serial":
		if st.Baud < 0 {
			return fmt.Errorf("streams[%d].baud must be > 0", i)
		}
		if st.Baud == 0 {
			st.Baud = DefaultBaud
		}
	case "tcp":
		if strings.TrimSpace(st.Addr) == "" {
			return fmt.Errorf("streams[%d].addr is required when source is 'tcp'", i)
		}
	case "gpsd":
		if strings.TrimSpace(st.Addr) == "" {
			st.Addr = DefaultGPSDAddr
		}
	case "replay":
		if st.Path == "" {
			return fmt.Errorf("streams[%d].path is required when source is 'replay'", i)
		}
		if st.Speed < 0 {
			return fmt.Errorf("streams[%d].speed must be > 0", i)
		}
		if st.Speed == 0 {
			st.Speed = 1
		}
		if st.Record != "" && st.Record == st.Path {
			return fmt.Errorf("streams[%d].record cannot overwrite streams[%d].path", i, i)
		}
	default:
		return fmt.Errorf("streams[%d].source must be one of serial, tcp, gpsd, replay", i)
	}

	for j := range st.Forward {
		fw := &st.Forward[j]
		fw.Addr = strings.TrimSpace(fw.Addr)
		if fw.Addr == "" {
			return fmt.Errorf("streams[%d].forward[%d].addr is required", i, j)
		}
		for k, p := range fw.Protocols {
			p = strings.ToLower(strings.TrimSpace(p))
			switch p {
			case "nmea", "rtcm", "ubx":
			default:
				return fmt.Errorf("streams[%d].forward[%d].protocols must be nmea, rtcm or ubx", i, j)
			}
			fw.Protocols[k] = p
		}
	}
	return nil
}
