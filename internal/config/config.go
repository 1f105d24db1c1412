package config

import (
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"workrate/internal/engine"
	"workrate/internal/quality"
)

type CollectorConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	IntervalSeconds   int  `mapstructure:"interval_seconds"`
	SystemIdleSeconds int  `mapstructure:"system_idle_seconds"`
	// Window classes whose focus is attributed to the browser bridge's tab.
	BrowserClasses []string `mapstructure:"browser_classes"`
}

var DefaultBrowserClasses = []string{
	"firefox", "navigator", "chromium", "chromium-browser", "google-chrome",
	"brave-browser", "microsoft-edge", "vivaldi-stable", "opera",
}

type EngineConfig struct {
	HeartbeatSeconds    int      `mapstructure:"heartbeat_seconds"`
	ActivityIdleSeconds int      `mapstructure:"activity_idle_seconds"`
	OffTaskGraceSeconds int      `mapstructure:"off_task_grace_seconds"`
	BlockList           []string `mapstructure:"block_list"`
}

type QualityConfig struct {
	quality.Weights `mapstructure:",squash"`
	OutputSignal    float64 `mapstructure:"output_signal"`
}

type SyncConfig struct {
	APIBase              string `mapstructure:"api_base"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	BatchSize            int    `mapstructure:"batch_size"`
	DrainIntervalSeconds int    `mapstructure:"drain_interval_seconds"` // 0 disables the periodic drain
}

type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	DatabasePath  string              `mapstructure:"database_path"`
	SocketPath    string              `mapstructure:"socket_path"`
	Collector     CollectorConfig     `mapstructure:"collector"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Quality       QualityConfig       `mapstructure:"quality"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/workrate")
		viper.AddConfigPath("/etc/workrate/")
	}

	viper.SetEnvPrefix("WORKRATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, err
		}
	}

	cfg, err := decode()
	if err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded: %+v", *cfg)
	return cfg, nil
}

func setDefaults() {
	w := quality.DefaultWeights()

	viper.SetDefault("database_path", "workrate.db")
	viper.SetDefault("socket_path", "/tmp/workrate.sock")
	viper.SetDefault("collector.enabled", true)
	viper.SetDefault("collector.interval_seconds", 2)
	viper.SetDefault("collector.system_idle_seconds", 120)
	viper.SetDefault("collector.browser_classes", DefaultBrowserClasses)
	viper.SetDefault("engine.heartbeat_seconds", 30)
	viper.SetDefault("engine.activity_idle_seconds", 180)
	viper.SetDefault("engine.off_task_grace_seconds", 3)
	viper.SetDefault("engine.block_list", engine.DefaultBlockList)
	viper.SetDefault("quality.focus", w.Focus)
	viper.SetDefault("quality.output", w.Output)
	viper.SetDefault("quality.consistency", w.Consistency)
	viper.SetDefault("quality.output_signal", float64(quality.DefaultOutput))
	viper.SetDefault("sync.api_base", "https://workrate-production.up.railway.app/api")
	viper.SetDefault("sync.timeout_seconds", 15)
	viper.SetDefault("sync.batch_size", 100)
	viper.SetDefault("sync.drain_interval_seconds", 300)
	viper.SetDefault("notifications.enabled", true)
}

func decode() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.validate()
	return &cfg, nil
}

func (c *Config) validate() {
	if c.Collector.IntervalSeconds < 1 {
		log.Println("Warning: collector.interval_seconds too low, setting to 1")
		c.Collector.IntervalSeconds = 1
	}
	if c.Collector.SystemIdleSeconds < 15 {
		log.Printf("Warning: collector.system_idle_seconds %d below minimum, setting to 15", c.Collector.SystemIdleSeconds)
		c.Collector.SystemIdleSeconds = 15
	}
	classes := c.Collector.BrowserClasses[:0:0]
	for _, cl := range c.Collector.BrowserClasses {
		if cl = strings.ToLower(strings.TrimSpace(cl)); cl != "" {
			classes = append(classes, cl)
		}
	}
	c.Collector.BrowserClasses = classes
	c.Engine.BlockList = engine.NormalizeDomains(c.Engine.BlockList)
	if c.Engine.HeartbeatSeconds < 1 {
		log.Println("Warning: engine.heartbeat_seconds too low, setting to 30")
		c.Engine.HeartbeatSeconds = 30
	}
	if c.Engine.ActivityIdleSeconds < c.Engine.HeartbeatSeconds {
		log.Printf("Warning: engine.activity_idle_seconds below heartbeat, setting to %d", c.Engine.HeartbeatSeconds)
		c.Engine.ActivityIdleSeconds = c.Engine.HeartbeatSeconds
	}
	if c.Engine.OffTaskGraceSeconds < 0 {
		log.Println("Warning: engine.off_task_grace_seconds negative, setting to 0")
		c.Engine.OffTaskGraceSeconds = 0
	}
	if err := c.Quality.Weights.Validate(); err != nil {
		log.Printf("Warning: invalid quality weights (%v), using defaults", err)
		c.Quality.Weights = quality.DefaultWeights()
	}
	if c.Quality.OutputSignal < 0 || c.Quality.OutputSignal > 1 {
		log.Printf("Warning: quality.output_signal %.2f outside [0,1], using %.2f", c.Quality.OutputSignal, float64(quality.DefaultOutput))
		c.Quality.OutputSignal = float64(quality.DefaultOutput)
	}
	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 100 {
		log.Printf("Warning: sync.batch_size %d outside [1,100], setting to 100", c.Sync.BatchSize)
		c.Sync.BatchSize = 100
	}
	if c.Sync.TimeoutSeconds < 1 {
		log.Println("Warning: sync.timeout_seconds too low, setting to 15")
		c.Sync.TimeoutSeconds = 15
	}
	if c.Sync.DrainIntervalSeconds < 0 {
		c.Sync.DrainIntervalSeconds = 0
	}
}

// Watch reloads the config file on change and hands the new values to
// onChange. Only settings that can change at runtime should be applied by
// the callback.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.Printf("Config file changed: %s", e.Name)
		cfg, err := decode()
		if err != nil {
			log.Printf("Warning: ignoring config change: %v", err)
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

func (c *Config) Scorer() quality.Scorer {
	return quality.NewScorer(c.Quality.Weights, quality.FixedOutput(c.Quality.OutputSignal))
}

// MachineConfig builds the engine settings, starting from the engine's own
// defaults so fields not exposed in the file keep their values.
func (c *Config) MachineConfig() engine.Config {
	mc := engine.DefaultConfig()
	mc.Heartbeat = time.Duration(c.Engine.HeartbeatSeconds) * time.Second
	mc.ActivityIdle = time.Duration(c.Engine.ActivityIdleSeconds) * time.Second
	mc.OffTaskGrace = time.Duration(c.Engine.OffTaskGraceSeconds) * time.Second
	if list := engine.NormalizeDomains(c.Engine.BlockList); len(list) > 0 {
		mc.DefaultBlockList = list
	}
	mc.Scorer = c.Scorer()
	return mc
}

func (c *Config) SystemIdleThreshold() time.Duration {
	return time.Duration(c.Collector.SystemIdleSeconds) * time.Second
}

func (c *Config) CollectionInterval() time.Duration {
	return time.Duration(c.Collector.IntervalSeconds) * time.Second
}

func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.Sync.DrainIntervalSeconds) * time.Second
}
