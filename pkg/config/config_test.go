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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/numaslice/pkg/slicecache"
	"github.com/numaproj/numaslice/pkg/sliceerr"
)

func writeConfig(t *testing.T, path string, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), conf)
	assert.False(t, conf.SpillEnabled())
	ct, err := conf.CacheType()
	require.NoError(t, err)
	assert.Equal(t, slicecache.None, ct)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "numaslice.yaml")
	writeConfig(t, path, `
windowSize: 10000
windowSlide: 5000
numberOfWorkerThreads: 8
sliceCacheType: SECOND_CHANCE
sliceCacheNumberOfEntries: 16
maxResidentBytesPerWorker: 1048576
`)
	t.Setenv("NUMASLICE_NUMBEROFWORKERTHREADS", "2")

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), conf.WindowSize)
	assert.Equal(t, int64(5000), conf.WindowSlide)
	assert.Equal(t, 2, conf.NumberOfWorkerThreads)
	assert.Equal(t, 16, conf.SliceCacheNumberOfEntries)
	assert.True(t, conf.SpillEnabled())
	ct, err := conf.CacheType()
	require.NoError(t, err)
	assert.Equal(t, slicecache.SecondChance, ct)
	assert.Equal(t, 64*1024, conf.FileDescriptorBufferSize, "unset keys keep their default")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		valid  bool
	}{
		{name: "defaults", modify: func(c *Config) {}, valid: true},
		{name: "zero size", modify: func(c *Config) { c.WindowSize = 0 }},
		{name: "slide larger than size", modify: func(c *Config) { c.WindowSlide = c.WindowSize + 1 }},
		{name: "no workers", modify: func(c *Config) { c.NumberOfWorkerThreads = 0 }},
		{name: "unknown cache", modify: func(c *Config) { c.SliceCacheType = "RANDOM" }},
		{name: "cache without entries", modify: func(c *Config) {
			c.SliceCacheType = "LRU"
			c.SliceCacheNumberOfEntries = 0
		}},
		{name: "negative resident bytes", modify: func(c *Config) { c.MaxResidentBytesPerWorker = -1 }},
		{name: "spill without directory", modify: func(c *Config) {
			c.MaxResidentBytesPerWorker = 1
			c.WorkingDirectory = ""
		}},
		{name: "spill without buffers", modify: func(c *Config) {
			c.MaxResidentBytesPerWorker = 1
			c.NumberOfBuffersPerWorker = 0
		}},
		{name: "spill", modify: func(c *Config) { c.MaxResidentBytesPerWorker = 1 }, valid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			err := c.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, sliceerr.IsFatal(err), "got %v", err)
		})
	}
}

func TestLoadConfig_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "numaslice.yaml")
	writeConfig(t, path, "windowSize: 1000\nwindowSlide: 1000\n")

	reloadErrs := make(chan error, 10)
	changes := make(chan Config, 10)
	g, err := LoadConfig(path, func(err error) { reloadErrs <- err }, func(c Config) { changes <- c })
	require.NoError(t, err)
	assert.Equal(t, int64(1000), g.Get().WindowSize)

	writeConfig(t, path, "windowSize: 2000\nwindowSlide: 1000\n")
	select {
	case c := <-changes:
		assert.Equal(t, int64(2000), c.WindowSize)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
	assert.Equal(t, int64(2000), g.Get().WindowSize)

	writeConfig(t, path, "windowSize: 2000\nwindowSlide: 3000\n")
	select {
	case err := <-reloadErrs:
		assert.True(t, sliceerr.IsFatal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("invalid configuration was not reported")
	}
	assert.Equal(t, int64(1000), g.Get().WindowSlide)
}
