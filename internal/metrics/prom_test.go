package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	SetBuildInfo("dev", "abc", "today")
	RecordFrame(true)
	RecordFrame(false)
	ObserveBroker(3, 2)
	RecordMotionTrigger()
	RecordCaption(true, 0.25)
	RecordCaption(false, 0)
	RecordInsightRelayed()
	RecordUtterance()
	SetVisionConnected(true)
	RecordVisionForward()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"lookout_frames_total":            false,
		"lookout_broker_queue_depth":      false,
		"lookout_caption_latency_seconds": false,
		"lookout_vision_link_connected":   false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("metric %s not gathered", name)
		}
	}
}
