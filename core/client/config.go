package client

import (
	"time"

	"github.com/pyropy/gfs/lib/config"
)

type Config struct {
	Master struct {
		Addr string `envconfig:"MASTER_ADDR" default:"localhost:1234" yaml:"addr"`
	} `yaml:"master"`
	Chunks struct {
		// BlockSize must match the chunk servers' block size.
		BlockSize uint32 `envconfig:"CHUNK_BLOCK_SIZE" default:"67108864" yaml:"block_size"`
	} `yaml:"chunks"`
	Cache struct {
		// Path of the leveldb metadata cache. The cache is kept in memory when empty.
		Path string        `envconfig:"CLIENT_CACHE_PATH" yaml:"path"`
		TTL  time.Duration `envconfig:"CLIENT_CACHE_TTL" default:"1m" yaml:"ttl"`
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
	cfg.Master.Addr = "localhost:1234"
	cfg.Chunks.BlockSize = 64 << 20
	cfg.Cache.TTL = time.Minute

	return &cfg
}
