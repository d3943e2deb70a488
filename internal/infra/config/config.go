package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Tokens    []string        `mapstructure:"tokens" yaml:"tokens"`
	Queues    QueueConfig     `mapstructure:"queues" yaml:"queues"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Transfer  TransferConfig  `mapstructure:"transfer" yaml:"transfer"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	Port string `mapstructure:"port" yaml:"port"`
}

type QueueConfig struct {
	UploadConcurrency   int `mapstructure:"upload_concurrency" yaml:"upload_concurrency"`
	DownloadConcurrency int `mapstructure:"download_concurrency" yaml:"download_concurrency"`
}

type SchedulerConfig struct {
	SQLitePath   string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PollMillis   int    `mapstructure:"poll_ms" yaml:"poll_ms"`
	PruneOnStart bool   `mapstructure:"prune_on_start" yaml:"prune_on_start"`
}

type TransferConfig struct {
	ChunkSize int64  `mapstructure:"chunk_size" yaml:"chunk_size"`
	OutDir    string `mapstructure:"out_dir" yaml:"out_dir"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("queues.upload_concurrency", 3)
	v.SetDefault("queues.download_concurrency", 3)
	v.SetDefault("scheduler.sqlite_path", "msgvault.db")
	v.SetDefault("scheduler.poll_ms", 250)
	v.SetDefault("scheduler.prune_on_start", true)
	v.SetDefault("transfer.chunk_size", 8*1024*1024)
	v.SetDefault("transfer.out_dir", "./downloads")
	v.SetDefault("log.path", "msgvault.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support Environment Variables
	v.SetEnvPrefix("MSGVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Tokens) == 0 {
		return errors.New("at least one API token must be configured")
	}

	seen := make(map[string]bool)
	for i, t := range c.Tokens {
		if t == "" {
			return fmt.Errorf("token[%d] is empty", i)
		}
		if seen[t] {
			return fmt.Errorf("token[%d] is a duplicate", i)
		}
		seen[t] = true
	}

	if c.Queues.UploadConcurrency <= 0 {
		c.Queues.UploadConcurrency = 3
	}
	if c.Queues.DownloadConcurrency <= 0 {
		c.Queues.DownloadConcurrency = 3
	}
	if c.Transfer.ChunkSize <= 0 {
		c.Transfer.ChunkSize = 8 * 1024 * 1024
	}
	if c.Transfer.OutDir == "" {
		c.Transfer.OutDir = "./downloads"
	}

	return nil
}
