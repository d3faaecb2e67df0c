// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Thresholds bound what counts as a healthy host. Zero fields disable
// their check.
type Thresholds struct {
	// MaxDiskPercent is the highest acceptable usage of any mounted
	// disk.
	MaxDiskPercent int `yaml:"max_disk_percent"`

	// MinMemoryFreeKB is the lowest acceptable available memory.
	MinMemoryFreeKB int64 `yaml:"min_memory_free_kb"`
}

// Check reads current memory and disk usage and compares them with
// thresholds. detail is empty when healthy.
func Check(thresholds Thresholds) (healthy bool, detail string) {
	return checkFrom(sources{procRoot: "/proc", statfs: statfs}, thresholds)
}

func checkFrom(src sources, thresholds Thresholds) (bool, string) {
	var problems []string

	if thresholds.MinMemoryFreeKB > 0 {
		_, freeKB := readMemory(filepath.Join(src.procRoot, "meminfo"))
		if freeKB < thresholds.MinMemoryFreeKB {
			problems = append(problems, fmt.Sprintf("memory available %d KB below %d KB", freeKB, thresholds.MinMemoryFreeKB))
		}
	}
	if thresholds.MaxDiskPercent > 0 {
		for _, disk := range readDisks(filepath.Join(src.procRoot, "mounts"), src.statfs) {
			if disk.PercentUsed > thresholds.MaxDiskPercent {
				problems = append(problems, describeDisk(disk, thresholds.MaxDiskPercent))
			}
		}
	}

	if len(problems) == 0 {
		return true, ""
	}
	return false, strings.Join(problems, "; ")
}

func describeDisk(disk schema.DiskInfo, limit int) string {
	return fmt.Sprintf("%s (%s) %d%% used, limit %d%%", disk.MountPoint, disk.Device, disk.PercentUsed, limit)
}
