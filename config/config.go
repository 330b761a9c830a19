package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/serr"
)

const (
	TINYOSCONFIG = "TINYOSCONFIG"
)

// Config holds the kernel's table sizes and debugging knobs. Table
// sizes are fixed for the lifetime of a booted kernel.
type Config struct {
	MaxProc         int           `yaml:"maxproc"`
	MaxFileID       int           `yaml:"maxfileid"` // per-process descriptors
	MaxFiles        int           `yaml:"maxfiles"`  // system-wide open files
	PipeBufferSize  int           `yaml:"pipebuffersize"`
	MaxPort         int           `yaml:"maxport"`
	Debug           string        `yaml:"debug"`
	DeadlockDetect  bool          `yaml:"deadlockdetect"`
	DeadlockTimeout time.Duration `yaml:"deadlocktimeout"`
}

func Default() *Config {
	return &Config{
		MaxProc:         1024,
		MaxFileID:       16,
		MaxFiles:        1024,
		PipeBufferSize:  8192,
		MaxPort:         1023,
		DeadlockDetect:  false,
		DeadlockTimeout: 30 * time.Second,
	}
}

func (cfg *Config) String() string {
	return fmt.Sprintf("{maxproc %d maxfileid %d maxfiles %d pipebuf %d maxport %d debug %q}",
		cfg.MaxProc, cfg.MaxFileID, cfg.MaxFiles, cfg.PipeBufferSize, cfg.MaxPort, cfg.Debug)
}

// Load reads a YAML config from pn on top of the defaults. An empty pn
// falls back to $TINYOSCONFIG, and then to the defaults alone.
func Load(pn string) (*Config, error) {
	cfg := Default()
	if pn == "" {
		pn = os.Getenv(TINYOSCONFIG)
	}
	if pn == "" {
		return cfg, nil
	}
	file, err := os.Open(pn)
	if err != nil {
		return nil, serr.NewErrError(serr.TErrBadConfig, pn, err)
	}
	defer file.Close()
	d := yaml.NewDecoder(file)
	d.KnownFields(true)
	if err := d.Decode(cfg); err != nil {
		return nil, serr.NewErrError(serr.TErrBadConfig, pn, err)
	}
	db.DPrintf(db.CONFIG, "Load %v: %v", pn, cfg)
	return cfg, cfg.Validate()
}

// Apply overrides fields from key=value strings, e.g. "maxproc=64".
func (cfg *Config) Apply(kvs []string) error {
	m := make(map[string]interface{}, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return serr.NewErr(serr.TErrBadConfig, kv)
		}
		m[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "yaml",
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := d.Decode(m); err != nil {
		return serr.NewErrError(serr.TErrBadConfig, strings.Join(kvs, ","), err)
	}
	db.DPrintf(db.CONFIG, "Apply %v: %v", kvs, cfg)
	return cfg.Validate()
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.MaxProc < 2:
		return serr.NewErr(serr.TErrBadConfig, fmt.Sprintf("maxproc %d < 2", cfg.MaxProc))
	case cfg.MaxFileID < 1:
		return serr.NewErr(serr.TErrBadConfig, fmt.Sprintf("maxfileid %d < 1", cfg.MaxFileID))
	case cfg.MaxFiles < 1:
		return serr.NewErr(serr.TErrBadConfig, fmt.Sprintf("maxfiles %d < 1", cfg.MaxFiles))
	case cfg.PipeBufferSize < 2:
		// one slot always stays unused
		return serr.NewErr(serr.TErrBadConfig, fmt.Sprintf("pipebuffersize %d < 2", cfg.PipeBufferSize))
	case cfg.MaxPort < 1:
		return serr.NewErr(serr.TErrBadConfig, fmt.Sprintf("maxport %d < 1", cfg.MaxPort))
	case cfg.DeadlockDetect && cfg.DeadlockTimeout <= 0:
		return serr.NewErr(serr.TErrBadConfig, "deadlocktimeout must be positive")
	}
	return nil
}
