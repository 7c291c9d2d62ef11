// Package config loads and validates the client's mount/runtime
// configuration file, generalizing the JSON config-file pattern in
// the teacher's client main into YAML, the format the rest of the
// retrieved pack's ambient tooling favors.
package config

import (
	"os"

	validator "gopkg.in/go-playground/validator.v9"
	yaml "gopkg.in/yaml.v2"
)

// Config is the top-level client configuration file shape. It covers
// every option enumerated in proto.MountOption, plus cache, rate and
// retry settings; several YAML keys differ from the names in
// proto.MountOptionName (volume, masters, path).
type Config struct {
	MountPoint string `yaml:"mountPoint" validate:"required"`
	Volume     string `yaml:"volume" validate:"required"`
	Owner      string `yaml:"owner" validate:"required"`
	Masters    []string `yaml:"masters" validate:"required,min=1"`

	LogDir   string `yaml:"logDir"`
	LogLevel string `yaml:"logLevel"`

	DentryCacheValidMS int64 `yaml:"dentryCacheValidMs"`
	AttrCacheValidMS   int64 `yaml:"attrCacheValidMs"`
	QuotaCacheValidMS  int64 `yaml:"quotaCacheValidMs"`
	EnableQuota        bool  `yaml:"enableQuota"`

	EnableRDMA bool `yaml:"enableRdma"`
	RDMAPort   int  `yaml:"rdmaPort" validate:"omitempty,min=1,max=65535"`

	SubDir string `yaml:"path"`

	ReadRate      int64 `yaml:"readRate"`
	WriteRate     int64 `yaml:"writeRate"`
	MaxWriters    int   `yaml:"maxWriters"`
	RetryMax      int   `yaml:"retryMax"`
	FollowerRead  bool  `yaml:"followerRead"`
	NearRead      bool  `yaml:"nearRead"`

	ProfPort     int `yaml:"profPort"`
	ExporterPort int `yaml:"exporterPort"`
}

var validate = validator.New()

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DentryCacheValidMS == 0 {
		c.DentryCacheValidMS = 30000
	}
	if c.AttrCacheValidMS == 0 {
		c.AttrCacheValidMS = 30000
	}
	if c.MaxWriters == 0 {
		c.MaxWriters = 4
	}
	if c.RetryMax == 0 {
		c.RetryMax = 5
	}
	if c.SubDir == "" {
		c.SubDir = "/"
	}
}
