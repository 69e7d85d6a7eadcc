// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config reads process-wide tunables from the environment,
// following the same plain os.Getenv-with-typed-defaults shape as the
// teacher's own env.go. There is no configuration framework dependency;
// the one structured piece of config (the device pool override) is
// plain YAML decoded with sigs.k8s.io/yaml so it can be hand-written or
// emitted by a k8s-style deployment tool.
package config

import (
	"os"
	"runtime"
	"strconv"

	"sigs.k8s.io/yaml"
)

const (
	envCPUSlots    = "COREDB_CPU_SLOTS"
	envPageSize    = "COREDB_PAGE_SIZE"
	envGrowthStep  = "COREDB_GROWTH_STEP_PAGES"
	envDevicePool  = "COREDB_DEVICE_POOL_FILE"
	envCompressCk  = "COREDB_COMPRESS_CHECKPOINTS"
	defaultPage    = 1 << 20 // 1MiB pages
	defaultGrowth  = 64      // pages per growth step
)

// Config holds the tunables read at process start. Zero values are
// replaced with defaults by Load.
type Config struct {
	// CPUSlots is the number of CPU worker slots in the executor's
	// device pool. Defaults to 2x the online processor count, matching
	// the teacher's runtime.NumCPU()-based defaults in plan/exec.go.
	CPUSlots int
	// AcceleratorIDs are the accelerator device ids made available to
	// the executor, typically loaded from the device pool override
	// file rather than the environment.
	AcceleratorIDs []int
	// PageSize is the default page size used by new page stores.
	PageSize int
	// GrowthStepPages is the number of pages the backing file grows by
	// each time a size class runs out of free pages.
	GrowthStepPages int
	// CompressCheckpoints enables zstd compression of the chunk
	// directory that checkpoint() rewrites; page data is never
	// compressed.
	CompressCheckpoints bool
}

// devicePoolFile is the optional YAML override format for the device
// pool; see SPEC_FULL.md domain-stack table.
type devicePoolFile struct {
	CPUSlots       int   `json:"cpuSlots"`
	AcceleratorIDs []int `json:"acceleratorIds"`
}

// Load builds a Config from the environment, applying defaults for
// anything unset. It never fails: malformed environment values, and an
// unreadable or malformed device pool file, are silently ignored in
// favor of the default.
func Load() *Config {
	c := &Config{
		CPUSlots:        2 * runtime.NumCPU(),
		PageSize:        defaultPage,
		GrowthStepPages: defaultGrowth,
	}
	if v := os.Getenv(envCPUSlots); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.CPUSlots = n
		}
	}
	if v := os.Getenv(envPageSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PageSize = n
		}
	}
	if v := os.Getenv(envGrowthStep); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.GrowthStepPages = n
		}
	}
	if v := os.Getenv(envCompressCk); v != "" {
		c.CompressCheckpoints = v == "1" || v == "true"
	}
	if path := os.Getenv(envDevicePool); path != "" {
		c.loadDevicePool(path)
	}
	return c
}

func (c *Config) loadDevicePool(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var dp devicePoolFile
	if err := yaml.Unmarshal(data, &dp); err != nil {
		return
	}
	if dp.CPUSlots > 0 {
		c.CPUSlots = dp.CPUSlots
	}
	if len(dp.AcceleratorIDs) > 0 {
		c.AcceleratorIDs = dp.AcceleratorIDs
	}
}
