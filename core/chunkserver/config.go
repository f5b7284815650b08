package chunkserver

import (
	"time"

	"github.com/pyropy/gfs/lib/config"
)

type Config struct {
	Server struct {
		Host string `envconfig:"SERVER_HOST" default:"localhost" yaml:"host"`
		Port int    `envconfig:"SERVER_PORT" default:"7001" yaml:"port"`
	} `yaml:"server"`
	Master struct {
		Addr string `envconfig:"MASTER_ADDR" default:"localhost:1234" yaml:"addr"`
	} `yaml:"master"`
	Chunks struct {
		Path      string `envconfig:"CHUNK_PATH" default:"chunks" yaml:"path"`
		BlockSize uint32 `envconfig:"CHUNK_BLOCK_SIZE" default:"67108864" yaml:"block_size"`
	} `yaml:"chunks"`
	Report struct {
		Interval time.Duration `envconfig:"REPORT_INTERVAL" default:"10s" yaml:"interval"`
	} `yaml:"report"`
	Cache struct {
		Entries int `envconfig:"CACHE_ENTRIES" default:"100" yaml:"entries"`
	} `yaml:"cache"`
}

func GetConfig(path string) (*Config, error) {
	var cfg Config
	err := config.Load(path, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func DefaultConfig() *Config {
	var cfg Config
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 7001
	cfg.Master.Addr = "localhost:1234"
	cfg.Chunks.Path = "chunks"
	cfg.Chunks.BlockSize = 64 << 20
	cfg.Report.Interval = 10 * time.Second
	cfg.Cache.Entries = 100

	return &cfg
}
