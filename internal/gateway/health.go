package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/haldvik/lookout/internal/broker"
	"github.com/haldvik/lookout/internal/caption"
)

type visionStatus struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

type motionStatus struct {
	Triggered bool `json:"triggered"`
}

// statusData is the pipeline snapshot shared by the status command and the
// health endpoint. Built on the dispatch loop.
type statusData struct {
	Producer bool           `json:"producer_connected"`
	Broker   broker.Stats   `json:"broker"`
	Caption  caption.Status `json:"caption"`
	Routes   int            `json:"routes_pending"`
	Vision   visionStatus   `json:"vision"`
	Motion   motionStatus   `json:"motion"`
}

type statusMessage struct {
	Type string     `json:"type"`
	V    int        `json:"v"`
	TSMS int64      `json:"ts_ms"`
	Data statusData `json:"data"`
}

type processStatus struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	Goroutines int     `json:"goroutines"`
}

type healthResponse struct {
	Status   string        `json:"status"`
	Pipeline statusData    `json:"pipeline"`
	Process  processStatus `json:"process"`
}

// statusSnapshot must run on the dispatch loop.
func (s *Server) statusSnapshot() statusData {
	d := statusData{
		Producer: s.producer != nil,
		Broker:   s.broker.Stats(),
		Caption:  s.captions.Status(),
		Routes:   s.routes.Len(),
		Motion:   motionStatus{Triggered: s.gate.Triggered()},
	}
	if s.link != nil {
		d.Vision = visionStatus{Configured: true, Connected: s.link.IsConnected()}
	}
	return d
}

// handleHealthz reports pipeline and host occupancy. The pipeline part is
// fetched through the dispatch loop; a loop that cannot answer within the
// deadline is itself the failure being reported.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ch := make(chan statusData, 1)
	select {
	case s.loop <- func() { ch <- s.statusSnapshot() }:
	case <-ctx.Done():
		http.Error(w, "dispatch loop stalled", http.StatusServiceUnavailable)
		return
	}
	var data statusData
	select {
	case data = <-ch:
	case <-ctx.Done():
		http.Error(w, "dispatch loop stalled", http.StatusServiceUnavailable)
		return
	}

	resp := healthResponse{
		Status:   "ok",
		Pipeline: data,
		Process:  processStatus{Goroutines: runtime.NumGoroutine()},
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Process.MemPercent = vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		resp.Process.CPUPercent = pcts[0]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
