//go:build darwin

package memory

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// probe combines sysctl hw.memsize with vm_stat page counts. Free plus
// inactive pages approximate reclaimable memory on macOS.
func probe() (totalMB, availableMB int, err error) {
	out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
	if err != nil {
		return 0, 0, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	totalBytes, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse hw.memsize: %w", err)
	}

	vmOut, err := exec.Command("vm_stat").Output()
	if err != nil {
		return 0, 0, fmt.Errorf("vm_stat: %w", err)
	}

	pageSize := int64(4096)
	var freePages, inactivePages int64
	for _, line := range strings.Split(string(vmOut), "\n") {
		switch {
		case strings.HasPrefix(line, "Mach Virtual Memory Statistics:"):
			// "(page size of 16384 bytes)"
			if i := strings.Index(line, "page size of "); i >= 0 {
				rest := strings.Fields(line[i+len("page size of "):])
				if len(rest) > 0 {
					if ps, err := strconv.ParseInt(rest[0], 10, 64); err == nil && ps > 0 {
						pageSize = ps
					}
				}
			}
		case strings.HasPrefix(line, "Pages free:"):
			freePages = parseVMStatPages(line)
		case strings.HasPrefix(line, "Pages inactive:"):
			inactivePages = parseVMStatPages(line)
		}
	}

	availBytes := (freePages + inactivePages) * pageSize
	return int(totalBytes / (1024 * 1024)), int(availBytes / (1024 * 1024)), nil
}

func parseVMStatPages(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(fields[len(fields)-1], "."), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
