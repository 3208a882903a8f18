// Package config loads the resolver's optional YAML configuration file.
// The listen and forwarder fields also have CLI flag equivalents in
// cmd/dnscached (-p and -f); a value given on the command line overrides
// whatever the file says. The other fields are set only through the file.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML configuration document.
type File struct {
	Listen          string   `yaml:"listen"`
	Forwarder       string   `yaml:"forwarder"`
	Workers         int      `yaml:"workers"`
	MetricsListen   string   `yaml:"metrics_listen"`
	RateLimitQPS    float64  `yaml:"rate_limit_qps"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheShards     int      `yaml:"cache_shards"`
	AllowNets       []string `yaml:"allow_nets"`
	DenyNets        []string `yaml:"deny_nets"`
}

// Defaults returns the File populated with the resolver's built-in defaults,
// used when no -c flag is given.
func Defaults() File {
	return File{
		Listen:         ":53",
		Forwarder:      "8.8.8.8",
		Workers:        4,
		MetricsListen:  "",
		RateLimitQPS:   100,
		RateLimitBurst: 200,
		CacheShards:    1,
	}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f := Defaults()
	if err := yaml.Unmarshal(b, &f); err != nil {
		return File{}, err
	}
	return f, nil
}
