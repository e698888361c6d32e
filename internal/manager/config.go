package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Dim struct {
		Level float64 `mapstructure:"level" yaml:"level"`
	} `mapstructure:"dim" yaml:"dim"`
	Displays struct {
		Source string `mapstructure:"source" yaml:"source"`
	} `mapstructure:"displays" yaml:"displays"`
	Backlight struct {
		Device string `mapstructure:"device" yaml:"device"`
		Method string `mapstructure:"method" yaml:"method"`
	} `mapstructure:"backlight" yaml:"backlight"`
	Helper struct {
		Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
		Binary       string        `mapstructure:"binary" yaml:"binary"`
		BusName      string        `mapstructure:"bus_name" yaml:"bus_name"`
		ObjectPath   string        `mapstructure:"object_path" yaml:"object_path"`
		Interface    string        `mapstructure:"interface" yaml:"interface"`
		Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
		MappingWait  time.Duration `mapstructure:"mapping_wait" yaml:"mapping_wait"`
		PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	} `mapstructure:"helper" yaml:"helper"`
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dim.level", 0.0)
	v.SetDefault("displays.source", "auto")
	v.SetDefault("backlight.device", "")
	v.SetDefault("backlight.method", "logind")
	v.SetDefault("helper.enabled", true)
	v.SetDefault("helper.binary", "ddchelper")
	v.SetDefault("helper.bus_name", "io.github.ddchelper.Helper")
	v.SetDefault("helper.object_path", "/io/github/ddchelper/Helper")
	v.SetDefault("helper.interface", "io.github.ddchelper.Helper")
	v.SetDefault("helper.timeout", 3*time.Second)
	v.SetDefault("helper.mapping_wait", time.Second)
	v.SetDefault("helper.poll_interval", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// ConfigDir is $XDG_CONFIG_HOME/umbra.
func ConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "umbra")
	}
	return filepath.Join(configDir, "umbra")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "umbra.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

type ConfigManager struct {
	once sync.Once
	path string
	v    *viper.Viper
	err  error
}

func NewConfigManager(path string) *ConfigManager {
	if path == "" {
		path = ConfigPath()
	}
	return &ConfigManager{path: path}
}

// Load reads the config file once. A missing file leaves the defaults.
func (c *ConfigManager) Load() (Config, error) {
	c.once.Do(func() {
		c.v = viper.New()
		setDefaults(c.v)
		c.v.SetConfigFile(c.path)
		c.v.SetConfigType("yaml")
		c.v.SetEnvPrefix("umbra")
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()

		if err := c.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				c.err = fmt.Errorf("failed to read config: %w", err)
			}
		}
	})
	if c.err != nil {
		return Config{}, c.err
	}
	return c.Current()
}

// Current decodes the config as it is right now.
func (c *ConfigManager) Current() (Config, error) {
	var conf Config
	if err := c.v.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return conf, nil
}

// Watch calls onChange whenever the file is rewritten.
func (c *ConfigManager) Watch(onChange func(Config)) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		conf, err := c.Current()
		if err != nil {
			return
		}
		onChange(conf)
	})
	c.v.WatchConfig()
}
