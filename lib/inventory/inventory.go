// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Probe collects the host's static inventory.
func Probe() schema.HostInfo {
	return probeFrom(sources{
		procRoot: "/proc",
		etcRoot:  "/etc",
		statfs:   statfs,
		machine:  machine,
	})
}

// sources lets tests point the probe at synthetic files and fake
// syscalls.
type sources struct {
	procRoot string
	etcRoot  string
	statfs   func(mountPoint string) (sizeKB, usedKB int64, err error)
	machine  func() string
}

func probeFrom(src sources) schema.HostInfo {
	info := schema.HostInfo{}
	info.Hostname, _ = os.Hostname()
	info.MemoryTotalKB, info.MemoryFreeKB = readMemory(filepath.Join(src.procRoot, "meminfo"))
	info.ProcessorCount = countProcessors(filepath.Join(src.procRoot, "cpuinfo"))
	info.Disks = readDisks(filepath.Join(src.procRoot, "mounts"), src.statfs)
	info.Architecture = src.machine()
	info.OSType = readOSType(filepath.Join(src.etcRoot, "os-release"))
	return info
}

// readMemory returns MemTotal and MemAvailable from /proc/meminfo, in
// kilobytes. Kernels without MemAvailable report MemFree instead.
func readMemory(path string) (totalKB, freeKB int64) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer file.Close()

	var memFree int64
	available := int64(-1)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = value
		case "MemFree:":
			memFree = value
		case "MemAvailable:":
			available = value
		}
	}
	if available >= 0 {
		return totalKB, available
	}
	return totalKB, memFree
}

// countProcessors counts "processor" entries in /proc/cpuinfo.
func countProcessors(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, _, found := strings.Cut(scanner.Text(), ":")
		if found && strings.TrimSpace(key) == "processor" {
			count++
		}
	}
	return count
}

// readDisks lists mounts of real block devices. A device mounted more
// than once is reported at its first mount point only.
func readDisks(path string, statfs func(string) (int64, int64, error)) []schema.DiskInfo {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	seen := make(map[string]struct{})
	var disks []schema.DiskInfo
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		device, mountPoint := fields[0], unescapeMount(fields[1])
		if _, duplicate := seen[device]; duplicate {
			continue
		}
		seen[device] = struct{}{}

		sizeKB, usedKB, err := statfs(mountPoint)
		if err != nil || sizeKB == 0 {
			continue
		}
		disks = append(disks, schema.DiskInfo{
			Device:      device,
			MountPoint:  mountPoint,
			SizeKB:      sizeKB,
			UsedKB:      usedKB,
			PercentUsed: int(usedKB * 100 / sizeKB),
		})
	}
	sort.Slice(disks, func(i, j int) bool { return disks[i].MountPoint < disks[j].MountPoint })
	return disks
}

// unescapeMount decodes the octal escapes /proc/mounts uses for
// spaces, tabs, newlines, and backslashes.
func unescapeMount(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var builder strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+3 < len(value) {
			if code, err := strconv.ParseUint(value[i+1:i+4], 8, 8); err == nil {
				builder.WriteByte(byte(code))
				i += 3
				continue
			}
		}
		builder.WriteByte(value[i])
	}
	return builder.String()
}

// readOSType returns ID plus the major VERSION_ID from os-release, for
// example "centos7" or "ubuntu22".
func readOSType(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	values := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		values[key] = strings.Trim(value, `"'`)
	}
	major, _, _ := strings.Cut(values["VERSION_ID"], ".")
	return values["ID"] + major
}

func statfs(mountPoint string) (sizeKB, usedKB int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(mountPoint, &stat); err != nil {
		return 0, 0, err
	}
	blockSize := int64(stat.Bsize)
	sizeKB = blocksToKB(int64(stat.Blocks), blockSize)
	usedKB = blocksToKB(int64(stat.Blocks)-int64(stat.Bfree), blockSize)
	return sizeKB, usedKB, nil
}

// blocksToKB converts a block count to KiB. Block sizes below 1 KiB
// are multiplied out before dividing.
func blocksToKB(blocks, blockSize int64) int64 {
	return blocks * blockSize / 1024
}

func machine() string {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return ""
	}
	return unix.ByteSliceToString(utsname.Machine[:])
}
