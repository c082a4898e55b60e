package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var startedAt = time.Now()

// handleSystemHealth reports process and host health for operators.
func (s *Server) handleSystemHealth(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"api_version":    APIVersion,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["memory"] = map[string]any{
			"total_bytes": vm.Total,
			"used_pct":    vm.UsedPercent,
		}
	}
	if du, err := disk.Usage(s.cfg.Writer.Root()); err == nil {
		out["artifact_disk"] = map[string]any{
			"total_bytes": du.Total,
			"free_bytes":  du.Free,
			"used_pct":    du.UsedPercent,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}
