// Package gpu probes and parses NVIDIA GPU inventory on remote hosts.
package gpu

import (
	"fmt"
	"strconv"
	"strings"
)

// QueryCommand lists one CSV line per GPU:
// index, name, memory.total (MiB), memory.used (MiB), utilization.gpu (%).
const QueryCommand = "nvidia-smi --query-gpu=index,name,memory.total,memory.used,utilization.gpu --format=csv,noheader,nounits"

// notAvailable is reported by nvidia-smi for fields a device doesn't support.
const notAvailable = "[N/A]"

// Info describes one GPU.
type Info struct {
	Index         int
	Name          string
	MemoryTotalMi int64
	MemoryUsedMi  int64
	// Utilization is a percentage, or -1 when the device doesn't report it.
	Utilization float64
}

// Summary renders "NVIDIA A100 8192/40960 MiB 45%".
func (g Info) Summary() string {
	s := fmt.Sprintf("%s %d/%d MiB", g.Name, g.MemoryUsedMi, g.MemoryTotalMi)
	if g.Utilization >= 0 {
		s += " " + strconv.FormatFloat(g.Utilization, 'f', -1, 64) + "%"
	}
	return s
}

// Parse reads QueryCommand output. Empty output or output that looks like
// an nvidia-smi error message yields no GPUs and no error; malformed lines
// are an error.
func Parse(output string) ([]Info, error) {
	output = strings.TrimSpace(output)
	if output == "" || looksLikeFailure(output) {
		return nil, nil
	}

	var gpus []Info
	for n, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		g, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		gpus = append(gpus, g)
	}
	return gpus, nil
}

func parseLine(line string) (Info, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return Info{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	// GPU names never contain commas today, but join any extras back into
	// the name so a future one doesn't shift the numeric columns.
	last := len(fields) - 3
	g := Info{Name: strings.Join(fields[1:last], ", "), Utilization: -1}

	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return Info{}, fmt.Errorf("failed to parse GPU index '%s': %w", fields[0], err)
	}
	g.Index = idx

	if g.MemoryTotalMi, err = parseMiB(fields[last]); err != nil {
		return Info{}, fmt.Errorf("failed to parse GPU memory total '%s': %w", fields[last], err)
	}
	if g.MemoryUsedMi, err = parseMiB(fields[last+1]); err != nil {
		return Info{}, fmt.Errorf("failed to parse GPU memory used '%s': %w", fields[last+1], err)
	}

	if util := fields[last+2]; util != "" && util != notAvailable {
		v, err := strconv.ParseFloat(util, 64)
		if err != nil {
			return Info{}, fmt.Errorf("failed to parse GPU utilization '%s': %w", util, err)
		}
		g.Utilization = v
	}
	return g, nil
}

func parseMiB(s string) (int64, error) {
	if s == "" || s == notAvailable {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func looksLikeFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{"no devices", "not found", "failed", "error", "couldn't communicate"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Metadata flattens gpus into result metadata keys:
// gpu.count, gpu.<index>.name, gpu.<index>.memory, gpu.<index>.utilization.
func Metadata(gpus []Info) map[string]string {
	if len(gpus) == 0 {
		return nil
	}
	md := map[string]string{"gpu.count": strconv.Itoa(len(gpus))}
	for _, g := range gpus {
		prefix := "gpu." + strconv.Itoa(g.Index) + "."
		md[prefix+"name"] = g.Name
		md[prefix+"memory"] = fmt.Sprintf("%d/%d MiB", g.MemoryUsedMi, g.MemoryTotalMi)
		if g.Utilization >= 0 {
			md[prefix+"utilization"] = strconv.FormatFloat(g.Utilization, 'f', -1, 64) + "%"
		}
	}
	return md
}
