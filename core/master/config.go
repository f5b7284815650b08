package master

import (
	"time"

	"github.com/pyropy/gfs/lib/config"
)

type Config struct {
	Server struct {
		Host string `envconfig:"MASTER_HOST" yaml:"host"`
		Port int    `envconfig:"MASTER_PORT" default:"1234" yaml:"port"`
	} `yaml:"server"`
	Replication struct {
		Factor        int           `envconfig:"REPLICATION_FACTOR" default:"3" yaml:"factor"`
		HealthyTarget int           `envconfig:"REPLICA_HEALTHY_TARGET" default:"3" yaml:"healthy_target"`
		CheckInterval time.Duration `envconfig:"REPLICA_CHECK_INTERVAL" default:"10s" yaml:"check_interval"`
		QueueSize     int           `envconfig:"REPLICA_QUEUE_SIZE" default:"1024" yaml:"queue_size"`
	} `yaml:"replication"`
	Lease struct {
		Duration time.Duration `envconfig:"LEASE_DURATION" default:"60s" yaml:"duration"`
	} `yaml:"lease"`
	Heartbeat struct {
		Interval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"10s" yaml:"interval"`
		Retries  int           `envconfig:"HEARTBEAT_RETRIES" default:"3" yaml:"retries"`
	} `yaml:"heartbeat"`
	OpLog struct {
		// Path of the leveldb op log. Metadata is kept in memory only when empty.
		Path string `envconfig:"OPLOG_PATH" yaml:"path"`
	} `yaml:"oplog"`
}

// GetConfig reads the master config from the environment and, if path is
// set, from a YAML file.
func GetConfig(path string) (*Config, error) {
	var cfg Config
	err := config.Load(path, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the built-in defaults without consulting the environment.
func DefaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = 1234
	cfg.Replication.Factor = 3
	cfg.Replication.HealthyTarget = 3
	cfg.Replication.CheckInterval = 10 * time.Second
	cfg.Replication.QueueSize = 1024
	cfg.Lease.Duration = 60 * time.Second
	cfg.Heartbeat.Interval = 10 * time.Second
	cfg.Heartbeat.Retries = 3

	return &cfg
}
