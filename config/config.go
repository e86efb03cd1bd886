package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Search       SearchConfig       `mapstructure:"search"`
	Commit       CommitConfig       `mapstructure:"commit"`
	Placement    PlacementConfig    `mapstructure:"placement"`
	Cluster      ClusterConfig      `mapstructure:"cluster"`
	Experimental ExperimentalConfig `mapstructure:"experimental_features"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SearchConfig contains index catalog settings
type SearchConfig struct {
	Path               string            `mapstructure:"path"`
	WriterMemory       int               `mapstructure:"writer_memory"` // bytes per writer
	JSONParsingThreads int               `mapstructure:"json_parsing_threads"`
	DefaultResultLimit int               `mapstructure:"default_result_limit"`
	MergePolicy        MergePolicyConfig `mapstructure:"merge_policy"`
}

// MergePolicyConfig names the engine merge policy and its parameters
type MergePolicyConfig struct {
	Policy  string                 `mapstructure:"policy"`
	Options map[string]interface{} `mapstructure:"options"`
}

// CommitConfig drives the background auto-commit watcher
type CommitConfig struct {
	Interval  int `mapstructure:"interval"` // in seconds
	Threshold int `mapstructure:"threshold"`
}

// PlacementConfig contains the placement gRPC service settings
type PlacementConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	ConsulAddr string `mapstructure:"consul_addr"`
}

// ClusterConfig contains raft membership settings
type ClusterConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	NodeID    string   `mapstructure:"node_id"`
	RaftDir   string   `mapstructure:"raft_dir"`
	BindAddr  string   `mapstructure:"bind_addr"`
	Bootstrap bool     `mapstructure:"bootstrap"`
	JoinAddr  []string `mapstructure:"join_addr"`
}

// ExperimentalConfig holds feature knobs that may not survive releases
type ExperimentalConfig struct {
	ID uint64 `mapstructure:"id"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/quarry")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("QUARRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults and environment cover every option, so without an
		// explicit path a missing file is not an error; a file named by
		// an explicit path must be readable.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("search.path", "./data")
	viper.SetDefault("search.writer_memory", 200*1024*1024)
	viper.SetDefault("search.json_parsing_threads", 4)
	viper.SetDefault("search.default_result_limit", 100)
	viper.SetDefault("search.merge_policy.policy", "log_merge")
	viper.SetDefault("commit.interval", 10)
	viper.SetDefault("commit.threshold", 512)
	viper.SetDefault("placement.enabled", false)
	viper.SetDefault("placement.addr", "0.0.0.0:8081")
	viper.SetDefault("placement.consul_addr", "127.0.0.1:8500")
	viper.SetDefault("cluster.enabled", false)
	viper.SetDefault("cluster.raft_dir", "./raft")
	viper.SetDefault("cluster.bind_addr", "127.0.0.1:7000")
	viper.SetDefault("experimental_features.id", 0)
}
