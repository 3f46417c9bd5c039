package gotool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ContainerLimits summarizes how the sandbox container is confined.
type ContainerLimits struct {
	CPUs            float64
	MemoryBytes     int64
	PidsLimit       int64
	ReadOnlyRoot    bool
	NoNewPrivileges bool
	SeccompProfile  string
	AppArmorProfile string
	CapDrop         []string
	NetworkMode     string
	Tmpfs           []string
	Ulimits         map[string]UlimitRange
}

type UlimitRange struct {
	Soft int64
	Hard int64
}

func FormatLimits(limits ContainerLimits) string {
	parts := make([]string, 0, 8)

	if limits.CPUs > 0 {
		parts = append(parts, fmt.Sprintf("cpu=%.2f", limits.CPUs))
	}
	if limits.MemoryBytes > 0 {
		parts = append(parts, fmt.Sprintf("mem=%s", formatBytes(limits.MemoryBytes)))
	}
	if limits.PidsLimit > 0 {
		parts = append(parts, fmt.Sprintf("pids=%d", limits.PidsLimit))
	}
	if limits.ReadOnlyRoot {
		parts = append(parts, "ro-root")
	}
	if limits.NoNewPrivileges {
		parts = append(parts, "no-new-privs")
	}
	if limits.SeccompProfile != "" {
		parts = append(parts, fmt.Sprintf("seccomp=%s", limits.SeccompProfile))
	}
	if limits.AppArmorProfile != "" {
		parts = append(parts, fmt.Sprintf("apparmor=%s", limits.AppArmorProfile))
	}
	if len(limits.CapDrop) > 0 {
		parts = append(parts, fmt.Sprintf("cap-drop=%s", strings.Join(limits.CapDrop, ",")))
	}
	if limits.NetworkMode != "" {
		parts = append(parts, fmt.Sprintf("net=%s", limits.NetworkMode))
	}
	if len(limits.Tmpfs) > 0 {
		parts = append(parts, fmt.Sprintf("tmpfs=%d", len(limits.Tmpfs)))
	}
	if len(limits.Ulimits) > 0 {
		ulimits := make([]string, 0, len(limits.Ulimits))
		for name, rng := range limits.Ulimits {
			ulimits = append(ulimits, fmt.Sprintf("%s=%d:%d", name, rng.Soft, rng.Hard))
		}
		sort.Strings(ulimits)
		parts = append(parts, fmt.Sprintf("ulimits=[%s]", strings.Join(ulimits, ",")))
	}

	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// Unconfined lists the protections the container lacks. A sandbox that runs
// untrusted programs should have none of these.
func (l ContainerLimits) Unconfined() []string {
	var missing []string
	if l.MemoryBytes <= 0 {
		missing = append(missing, "memory limit")
	}
	if l.PidsLimit <= 0 {
		missing = append(missing, "pids limit")
	}
	if !l.NoNewPrivileges {
		missing = append(missing, "no-new-privileges")
	}
	if l.NetworkMode != "none" {
		missing = append(missing, "network isolation")
	}
	return missing
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "0B"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	value := float64(n)
	suffix := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	exp := -1
	for value >= unit && exp < len(suffix)-1 {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%.1f%s", value, suffix[exp])
}

type inspectUlimit struct {
	Name string `json:"Name"`
	Soft int64  `json:"Soft"`
	Hard int64  `json:"Hard"`
}

type rawContainerInspect struct {
	HostConfig struct {
		NanoCPUs        int64             `json:"NanoCpus"`
		CPUQuota        int64             `json:"CpuQuota"`
		CPUPeriod       int64             `json:"CpuPeriod"`
		Memory          int64             `json:"Memory"`
		PidsLimit       int64             `json:"PidsLimit"`
		SecurityOpt     []string          `json:"SecurityOpt"`
		CapDrop         []string          `json:"CapDrop"`
		ReadonlyRootfs  bool              `json:"ReadonlyRootfs"`
		NoNewPrivileges bool              `json:"NoNewPrivileges"`
		NetworkMode     string            `json:"NetworkMode"`
		Tmpfs           map[string]string `json:"Tmpfs"`
		Ulimits         []inspectUlimit   `json:"Ulimits"`
	} `json:"HostConfig"`
	AppArmorProfile string `json:"AppArmorProfile"`
}

// InspectLimits reads a sandbox container's confinement from docker inspect.
func (r *DockerRunner) InspectLimits(ctx context.Context, container string) (ContainerLimits, error) {
	output, err := exec.CommandContext(ctx, r.dockerBin, "inspect", container).Output()
	if err != nil {
		return ContainerLimits{}, fmt.Errorf("docker inspect %s: %w", container, err)
	}
	limits, err := parseInspect(output)
	if err != nil {
		return ContainerLimits{}, fmt.Errorf("parse inspect for %s: %w", container, err)
	}
	return limits, nil
}

func parseInspect(output []byte) (ContainerLimits, error) {
	var decoded []rawContainerInspect
	if err := json.Unmarshal(output, &decoded); err != nil {
		return ContainerLimits{}, err
	}
	if len(decoded) == 0 {
		return ContainerLimits{}, fmt.Errorf("no inspect data")
	}
	info := decoded[0]

	return ContainerLimits{
		CPUs:            calculateCPUs(info.HostConfig.NanoCPUs, info.HostConfig.CPUQuota, info.HostConfig.CPUPeriod),
		MemoryBytes:     info.HostConfig.Memory,
		PidsLimit:       info.HostConfig.PidsLimit,
		ReadOnlyRoot:    info.HostConfig.ReadonlyRootfs,
		NoNewPrivileges: info.HostConfig.NoNewPrivileges || hasSecurityOpt(info.HostConfig.SecurityOpt, "no-new-privileges:true"),
		SeccompProfile:  extractSecurityOpt(info.HostConfig.SecurityOpt, "seccomp"),
		AppArmorProfile: info.AppArmorProfile,
		CapDrop:         append([]string(nil), info.HostConfig.CapDrop...),
		NetworkMode:     info.HostConfig.NetworkMode,
		Tmpfs:           mapTmpfs(info.HostConfig.Tmpfs),
		Ulimits:         mapUlimits(info.HostConfig.Ulimits),
	}, nil
}

func calculateCPUs(nanoCPUs, quota, period int64) float64 {
	if nanoCPUs > 0 {
		return float64(nanoCPUs) / 1_000_000_000
	}
	if quota > 0 && period > 0 {
		return float64(quota) / float64(period)
	}
	return 0
}

func hasSecurityOpt(opts []string, target string) bool {
	for _, opt := range opts {
		if opt == target {
			return true
		}
	}
	return false
}

func extractSecurityOpt(opts []string, prefix string) string {
	needle := prefix + "="
	for _, opt := range opts {
		if strings.HasPrefix(opt, needle) {
			return strings.TrimPrefix(opt, needle)
		}
	}
	return ""
}

func mapTmpfs(tmpfs map[string]string) []string {
	if len(tmpfs) == 0 {
		return nil
	}
	var paths []string
	for path, opts := range tmpfs {
		if opts != "" {
			paths = append(paths, fmt.Sprintf("%s (%s)", path, opts))
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func mapUlimits(src []inspectUlimit) map[string]UlimitRange {
	if len(src) == 0 {
		return nil
	}
	result := make(map[string]UlimitRange, len(src))
	for _, item := range src {
		result[strings.ToLower(item.Name)] = UlimitRange{Soft: item.Soft, Hard: item.Hard}
	}
	return result
}
