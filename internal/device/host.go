package device

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"go.uber.org/zap"
)

// hostInfo describes the machine the simulated devices run on.
type hostInfo struct {
	model  string
	vendor string
	memory int64
}

func probeHost(logger *zap.Logger) hostInfo {
	h := hostInfo{model: runtime.GOARCH, vendor: "fastmatrix"}
	if stats, err := cpu.Info(); err != nil {
		logger.Debug("failed to read host cpu info", zap.Error(err))
	} else if len(stats) > 0 {
		if name := strings.TrimSpace(stats[0].ModelName); name != "" {
			h.model = name
		}
		if v := strings.TrimSpace(stats[0].VendorID); v != "" {
			h.vendor = v
		}
	}
	if vm, err := mem.VirtualMemory(); err != nil {
		logger.Debug("failed to read host memory", zap.Error(err))
	} else {
		h.memory = int64(vm.Total)
	}
	return h
}
