/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the engine configuration from a YAML file with NUMASLICE_ environment overrides.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/numaproj/numaslice/pkg/slicecache"
	"github.com/numaproj/numaslice/pkg/sliceerr"
)

// EnvPrefix is the prefix of the environment variables overriding the file.
const EnvPrefix = "NUMASLICE"

// Config is the configuration of one operator instance. Times are in milliseconds.
type Config struct {
	WindowSize                int64  `mapstructure:"windowSize" json:"windowSize"`
	WindowSlide               int64  `mapstructure:"windowSlide" json:"windowSlide"`
	NumberOfWorkerThreads     int    `mapstructure:"numberOfWorkerThreads" json:"numberOfWorkerThreads"`
	SliceCacheType            string `mapstructure:"sliceCacheType" json:"sliceCacheType"`
	SliceCacheNumberOfEntries int    `mapstructure:"sliceCacheNumberOfEntries" json:"sliceCacheNumberOfEntries"`
	MaxNumFileDescriptors     uint64 `mapstructure:"maxNumFileDescriptors" json:"maxNumFileDescriptors"`
	FileDescriptorBufferSize  int    `mapstructure:"fileDescriptorBufferSize" json:"fileDescriptorBufferSize"`
	NumberOfBuffersPerWorker  int    `mapstructure:"numberOfBuffersPerWorker" json:"numberOfBuffersPerWorker"`
	WorkingDirectory          string `mapstructure:"workingDirectory" json:"workingDirectory"`
	// MaxResidentBytesPerWorker enables spilling when positive.
	MaxResidentBytesPerWorker int64  `mapstructure:"maxResidentBytesPerWorker" json:"maxResidentBytesPerWorker"`
	LogLevel                  string `mapstructure:"logLevel" json:"logLevel"`
}

// DefaultConfig returns a tumbling one minute window on four worker threads without cache and spill.
func DefaultConfig() Config {
	return Config{
		WindowSize:                60_000,
		WindowSlide:               60_000,
		NumberOfWorkerThreads:     4,
		SliceCacheType:            slicecache.None.String(),
		SliceCacheNumberOfEntries: 10,
		MaxNumFileDescriptors:     1024,
		FileDescriptorBufferSize:  64 * 1024,
		NumberOfBuffersPerWorker:  4,
		WorkingDirectory:          os.TempDir(),
		MaxResidentBytesPerWorker: 0,
		LogLevel:                  "info",
	}
}

// CacheType returns the parsed slice cache policy.
func (c Config) CacheType() (slicecache.Type, error) {
	return slicecache.ParseType(c.SliceCacheType)
}

// SpillEnabled tells whether the join state may be written to disk.
func (c Config) SpillEnabled() bool {
	return c.MaxResidentBytesPerWorker > 0
}

// Validate returns a fatal error for the first invalid setting.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return sliceerr.New(sliceerr.Fatal, "config", fmt.Sprintf(format, args...))
	}
	switch {
	case c.WindowSize <= 0:
		return invalid("windowSize must be positive, got %d", c.WindowSize)
	case c.WindowSlide <= 0 || c.WindowSlide > c.WindowSize:
		return invalid("windowSlide must be in (0, windowSize], got %d", c.WindowSlide)
	case c.NumberOfWorkerThreads <= 0:
		return invalid("numberOfWorkerThreads must be positive, got %d", c.NumberOfWorkerThreads)
	case c.MaxResidentBytesPerWorker < 0:
		return invalid("maxResidentBytesPerWorker must not be negative, got %d", c.MaxResidentBytesPerWorker)
	}
	t, err := c.CacheType()
	if err != nil {
		return err
	}
	if t != slicecache.None && c.SliceCacheNumberOfEntries <= 0 {
		return invalid("sliceCacheNumberOfEntries must be positive, got %d", c.SliceCacheNumberOfEntries)
	}
	if c.SpillEnabled() {
		switch {
		case c.WorkingDirectory == "":
			return invalid("workingDirectory is required when spilling")
		case c.FileDescriptorBufferSize <= 0:
			return invalid("fileDescriptorBufferSize must be positive, got %d", c.FileDescriptorBufferSize)
		case c.NumberOfBuffersPerWorker <= 0:
			return invalid("numberOfBuffersPerWorker must be positive, got %d", c.NumberOfBuffersPerWorker)
		case c.MaxNumFileDescriptors == 0:
			return invalid("maxNumFileDescriptors must be positive")
		}
	}
	return nil
}

// GlobalConfig holds the current configuration, it is replaced when the watched file changes.
type GlobalConfig struct {
	conf Config
	lock *sync.RWMutex
}

// Get returns a copy of the current configuration.
func (g *GlobalConfig) Get() Config {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.conf
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("windowSize", defaults.WindowSize)
	v.SetDefault("windowSlide", defaults.WindowSlide)
	v.SetDefault("numberOfWorkerThreads", defaults.NumberOfWorkerThreads)
	v.SetDefault("sliceCacheType", defaults.SliceCacheType)
	v.SetDefault("sliceCacheNumberOfEntries", defaults.SliceCacheNumberOfEntries)
	v.SetDefault("maxNumFileDescriptors", defaults.MaxNumFileDescriptors)
	v.SetDefault("fileDescriptorBufferSize", defaults.FileDescriptorBufferSize)
	v.SetDefault("numberOfBuffersPerWorker", defaults.NumberOfBuffersPerWorker)
	v.SetDefault("workingDirectory", defaults.WorkingDirectory)
	v.SetDefault("maxResidentBytesPerWorker", defaults.MaxResidentBytesPerWorker)
	v.SetDefault("logLevel", defaults.LogLevel)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	return v, nil
}

func unmarshal(v *viper.Viper) (Config, error) {
	conf := Config{}
	if err := v.Unmarshal(&conf); err != nil {
		return conf, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	return conf, conf.Validate()
}

// Load reads and validates the configuration. An empty path uses the defaults and the environment only.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return unmarshal(v)
}

// LoadConfig loads the file and keeps watching it. A changed file that fails to load or validate is passed to
// onErrorReloading and the previous configuration is kept.
func LoadConfig(path string, onErrorReloading func(error), onChange func(Config)) (*GlobalConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	conf, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	r := &GlobalConfig{
		conf: conf,
		lock: new(sync.RWMutex),
	}
	if path == "" {
		return r, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cf, err := unmarshal(v)
		if err != nil {
			onErrorReloading(err)
			return
		}
		r.lock.Lock()
		r.conf = cf
		r.lock.Unlock()
		if onChange != nil {
			onChange(cf)
		}
	})
	v.WatchConfig()
	return r, nil
}
