package host

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"webserver-bench/internal/logging"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
)

// HostInfo is stamped into every report so results from different machines are not
// compared by accident.
type HostInfo struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	KernelVersion string `json:"kernel_version"`
	CPUVendor     string `json:"cpu_vendor"`
	CPUModel      string `json:"cpu_model"`
	TotalThreads  int    `json:"total_threads"`
	NumSockets    int    `json:"num_sockets"`
	CacheSize     string `json:"cache_size,omitempty"`
	MemoryBytes   uint64 `json:"memory_bytes,omitempty"`
	DockerVersion string `json:"docker_version,omitempty"`

	CPUs []CPU `json:"-"`
}

// CPU places a logical CPU in the socket/core topology.
type CPU struct {
	ID     int
	Core   int
	Socket int
}

var (
	globalHostInfo *HostInfo
	hostInfoOnce   sync.Once
)

// GetHostInfo gathers the host description once per process.
func GetHostInfo() *HostInfo {
	hostInfoOnce.Do(func() {
		logger := logging.GetLogger()

		globalHostInfo = collect(procfs.DefaultMountPoint)

		logger.WithFields(logrus.Fields{
			"hostname":      globalHostInfo.Hostname,
			"cpu_model":     globalHostInfo.CPUModel,
			"total_threads": globalHostInfo.TotalThreads,
		}).Debug("Host information collected")
	})
	return globalHostInfo
}

func collect(procRoot string) *HostInfo {
	info := &HostInfo{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		TotalThreads:  runtime.NumCPU(),
		NumSockets:    1,
		CPUVendor:     "unknown",
		CPUModel:      "unknown",
		KernelVersion: "unknown",
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		logging.GetLogger().WithError(err).Debug("procfs not available, reporting partial host info")
		info.CPUs = flatTopology(info.TotalThreads)
		return info
	}

	if data, err := os.ReadFile(filepath.Join(procRoot, "version")); err == nil {
		if fields := strings.Fields(string(data)); len(fields) >= 3 {
			info.KernelVersion = fields[2]
		}
	}

	if cpus, err := fs.CPUInfo(); err == nil && len(cpus) > 0 {
		sockets := make(map[string]bool)
		for _, cpu := range cpus {
			sockets[cpu.PhysicalID] = true
		}
		if cpus[0].VendorID != "" {
			info.CPUVendor = cpus[0].VendorID
		}
		if cpus[0].ModelName != "" {
			info.CPUModel = cpus[0].ModelName
		}
		info.CacheSize = cpus[0].CacheSize
		info.TotalThreads = len(cpus)
		info.NumSockets = len(sockets)
		info.CPUs = topology(cpus)
	} else {
		info.CPUs = flatTopology(info.TotalThreads)
	}

	if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
		info.MemoryBytes = *mem.MemTotal * 1024
	}

	return info
}

// topology falls back to one core per logical CPU when cpuinfo lacks core ids, which is
// the case on most non-x86 kernels.
func topology(cpus []procfs.CPUInfo) []CPU {
	out := make([]CPU, 0, len(cpus))
	for _, c := range cpus {
		id := int(c.Processor)
		core, err := strconv.Atoi(c.CoreID)
		if err != nil {
			core = id
		}
		socket, err := strconv.Atoi(c.PhysicalID)
		if err != nil {
			socket = 0
		}
		out = append(out, CPU{ID: id, Core: core, Socket: socket})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func flatTopology(n int) []CPU {
	out := make([]CPU, n)
	for i := range out {
		out[i] = CPU{ID: i, Core: i}
	}
	return out
}

func (h *HostInfo) String() string {
	return fmt.Sprintf("%s (%s/%s, kernel %s) %s x%d", h.Hostname, h.OS, h.Arch, h.KernelVersion, h.CPUModel, h.TotalThreads)
}
