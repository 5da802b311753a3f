package cpuallocator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"webserver-bench/internal/host"

	"github.com/sirupsen/logrus"
)

// Allocator hands out CPUs to targets so a webserver can be pinned to whole physical
// cores instead of sharing hyperthreads with the load generator.
type Allocator struct {
	logger     logrus.FieldLogger
	cpus       map[int]host.CPU
	order      []int // first logical CPU of each physical core, by socket then core
	mu         sync.Mutex
	assigned   map[string][]int
	reservedBy map[int]string
}

func NewAllocator(cpus []host.CPU, logger logrus.FieldLogger) (*Allocator, error) {
	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs in host topology")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	byID := make(map[int]host.CPU, len(cpus))
	for _, cpu := range cpus {
		byID[cpu.ID] = cpu
	}

	return &Allocator{
		logger:     logger,
		cpus:       byID,
		order:      physicalOrder(cpus),
		assigned:   make(map[string][]int),
		reservedBy: make(map[int]string),
	}, nil
}

func physicalOrder(cpus []host.CPU) []int {
	sorted := append([]host.CPU(nil), cpus...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Socket != sorted[j].Socket {
			return sorted[i].Socket < sorted[j].Socket
		}
		if sorted[i].Core != sorted[j].Core {
			return sorted[i].Core < sorted[j].Core
		}
		return sorted[i].ID < sorted[j].ID
	})

	type coreKey struct{ socket, core int }
	seen := make(map[coreKey]bool)
	order := make([]int, 0, len(sorted))
	for _, cpu := range sorted {
		key := coreKey{cpu.Socket, cpu.Core}
		if seen[key] {
			continue
		}
		seen[key] = true
		order = append(order, cpu.ID)
	}
	return order
}

// EnsureAssigned resolves the CPUs of owner. An explicit cpuset is reserved as given;
// otherwise num physical cores are allocated. The canonical cpuset string is returned.
func (a *Allocator) EnsureAssigned(owner, cpuset string, num int) ([]int, string, error) {
	if assigned, ok := a.Get(owner); ok {
		return assigned, FormatCPUSet(assigned), nil
	}

	if cpuset != "" {
		cpus, err := ParseCPUSet(cpuset)
		if err != nil {
			return nil, "", err
		}
		if err := a.Reserve(owner, cpus); err != nil {
			return nil, "", err
		}
		cpus = uniqueSorted(cpus)
		a.logger.WithFields(logrus.Fields{
			"target": owner,
			"cpuset": FormatCPUSet(cpus),
			"source": "explicit",
		}).Info("Assigned CPU cores")
		return cpus, FormatCPUSet(cpus), nil
	}

	assigned, err := a.Allocate(owner, num)
	if err != nil {
		return nil, "", err
	}
	a.logger.WithFields(logrus.Fields{
		"target":    owner,
		"cpuset":    FormatCPUSet(assigned),
		"requested": num,
		"source":    "allocator",
	}).Info("Assigned CPU cores")
	return assigned, FormatCPUSet(assigned), nil
}

// Reserve marks cpuIDs as owned. It fails if any CPU is unknown or held by another owner.
func (a *Allocator) Reserve(owner string, cpuIDs []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(cpuIDs) == 0 {
		return fmt.Errorf("no CPUs specified")
	}
	for _, cpu := range cpuIDs {
		if _, ok := a.cpus[cpu]; !ok {
			return fmt.Errorf("cpu %d does not exist on this host", cpu)
		}
		if holder, ok := a.reservedBy[cpu]; ok && holder != owner {
			return fmt.Errorf("cpu %d already reserved by %s", cpu, holder)
		}
	}

	a.releaseLocked(owner)

	uniq := uniqueSorted(cpuIDs)
	for _, cpu := range uniq {
		a.reservedBy[cpu] = owner
	}
	a.assigned[owner] = uniq
	return nil
}

// Allocate reserves num physical cores, one logical CPU each. A single socket is preferred
// when one has enough free cores.
func (a *Allocator) Allocate(owner string, num int) ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if num <= 0 {
		return nil, fmt.Errorf("num must be >= 1")
	}

	a.releaseLocked(owner)

	picked := a.pickOnOneSocketLocked(num)
	if picked == nil {
		for _, cpu := range a.order {
			if a.coreBusyLocked(cpu) {
				continue
			}
			picked = append(picked, cpu)
			if len(picked) == num {
				break
			}
		}
	}
	if len(picked) != num {
		return nil, fmt.Errorf("insufficient physical cores: requested %d", num)
	}

	for _, cpu := range picked {
		a.reservedBy[cpu] = owner
	}
	a.assigned[owner] = uniqueSorted(picked)
	return append([]int(nil), a.assigned[owner]...), nil
}

func (a *Allocator) pickOnOneSocketLocked(num int) []int {
	bySocket := make(map[int][]int)
	var sockets []int
	for _, cpu := range a.order {
		if a.coreBusyLocked(cpu) {
			continue
		}
		socket := a.cpus[cpu].Socket
		if _, ok := bySocket[socket]; !ok {
			sockets = append(sockets, socket)
		}
		bySocket[socket] = append(bySocket[socket], cpu)
	}
	for _, socket := range sockets {
		if free := bySocket[socket]; len(free) >= num {
			return append([]int(nil), free[:num]...)
		}
	}
	return nil
}

// coreBusyLocked reports whether any hyperthread of cpu's physical core is reserved.
func (a *Allocator) coreBusyLocked(cpu int) bool {
	target := a.cpus[cpu]
	for id := range a.reservedBy {
		other := a.cpus[id]
		if other.Socket == target.Socket && other.Core == target.Core {
			return true
		}
	}
	return false
}

func (a *Allocator) Release(owner string) {
	a.mu.Lock()
	cpus := append([]int(nil), a.assigned[owner]...)
	a.releaseLocked(owner)
	a.mu.Unlock()

	if len(cpus) > 0 {
		a.logger.WithFields(logrus.Fields{
			"target": owner,
			"cpuset": FormatCPUSet(cpus),
		}).Debug("Released CPU cores")
	}
}

func (a *Allocator) releaseLocked(owner string) {
	prev, ok := a.assigned[owner]
	if !ok {
		return
	}
	for _, cpu := range prev {
		if holder, ok := a.reservedBy[cpu]; ok && holder == owner {
			delete(a.reservedBy, cpu)
		}
	}
	delete(a.assigned, owner)
}

func (a *Allocator) Get(owner string) ([]int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cpus, ok := a.assigned[owner]
	if !ok {
		return nil, false
	}
	return append([]int(nil), cpus...), true
}

func (a *Allocator) Snapshot() map[string][]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]int, len(a.assigned))
	for k, v := range a.assigned {
		out[k] = append([]int(nil), v...)
	}
	return out
}

// ParseCPUSet parses the Docker/cgroup cpuset syntax, e.g. "0-3,8,10-11".
func ParseCPUSet(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty cpuset")
	}

	var cpus []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("invalid cpuset %q", spec)
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil || start < 0 {
			return nil, fmt.Errorf("invalid cpu %q in cpuset %q", lo, spec)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(hi)
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid range %q in cpuset %q", part, spec)
			}
		}
		for cpu := start; cpu <= end; cpu++ {
			cpus = append(cpus, cpu)
		}
	}
	return uniqueSorted(cpus), nil
}

// FormatCPUSet is the inverse of ParseCPUSet and collapses consecutive ids into ranges.
func FormatCPUSet(cpus []int) string {
	sorted := uniqueSorted(cpus)
	var parts []string
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, strconv.Itoa(sorted[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", sorted[i], sorted[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

func uniqueSorted(vals []int) []int {
	cp := append([]int(nil), vals...)
	sort.Ints(cp)
	out := make([]int, 0, len(cp))
	for i, v := range cp {
		if i > 0 && cp[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
