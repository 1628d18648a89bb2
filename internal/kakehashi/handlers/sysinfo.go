package handlers

import (
	"context"
	"encoding/json"
	"os"
	"runtime"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

type memoryInfo struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

type systemInfo struct {
	Platform string     `json:"platform"`
	Arch     string     `json:"arch"`
	Release  string     `json:"release"`
	Hostname string     `json:"hostname"`
	Uptime   int64      `json:"uptime"`
	Memory   memoryInfo `json:"memory"`
	CPUs     int        `json:"cpus"`
}

// hostStats is filled in per OS; fields it cannot determine stay zero.
type hostStats struct {
	release  string
	uptime   int64
	memTotal uint64
	memFree  uint64
}

func collectSystemInfo() systemInfo {
	host, _ := os.Hostname()
	st := readHostStats()
	return systemInfo{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		Release:  st.release,
		Hostname: host,
		Uptime:   st.uptime,
		Memory:   memoryInfo{Total: st.memTotal, Free: st.memFree},
		CPUs:     runtime.NumCPU(),
	}
}

func systemInfoTool() *tools.Tool {
	return tools.MustNew(tools.Spec[struct{}]{
		Name:        NameGetSystemInfo,
		Description: "Report platform, architecture, uptime, memory and CPU count of the bridge host",
		Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		Reporting:   tools.Propagating,
		Handle: func(context.Context, struct{}) (*tools.Result, error) {
			out, err := json.MarshalIndent(collectSystemInfo(), "", "  ")
			if err != nil {
				return nil, err
			}
			return tools.Text(string(out)), nil
		},
	})
}
