package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/media"
)

func TestCollectorReportsBuffers(t *testing.T) {
	t.Parallel()

	reg := exchange.NewRegistry(nil, nil)
	defer reg.Close()
	reg.Init("audio", 4, 128)
	reg.Init("video", 2, 1024)
	reg.PushVideo("video", []byte("frame"), media.VideoMeta{Width: 2, Height: 2}, 5000)
	reg.PushVideo("video", make([]byte, 2048), media.VideoMeta{}, 6000)

	c := NewCollector(reg, reg.Bridge())
	promReg := prometheus.NewPedanticRegistry()
	if err := promReg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := promReg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := make(map[string]map[string]float64)
	for _, mf := range families {
		byKey := make(map[string]float64)
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "key" {
					key = lp.GetValue()
				}
			}
			switch {
			case m.GetGauge() != nil:
				byKey[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				byKey[key] = m.GetCounter().GetValue()
			}
		}
		values[mf.GetName()] = byKey
	}

	checks := []struct {
		name string
		key  string
		want float64
	}{
		{"framexchange_buffer_live_frames", "video", 1},
		{"framexchange_buffer_live_frames", "audio", 0},
		{"framexchange_buffer_capacity_slots", "audio", 4},
		{"framexchange_buffer_slot_payload_bytes", "video", 1024},
		{"framexchange_buffer_pushed_frames_total", "video", 1},
		{"framexchange_buffer_oversize_rejects_total", "video", 1},
		{"framexchange_buffer_last_timestamp_microseconds", "video", 5000},
		{"framexchange_notify_skipped_total", "", 1},
	}
	for _, c := range checks {
		got, ok := values[c.name][c.key]
		if !ok {
			t.Errorf("%s{key=%q} missing", c.name, c.key)
			continue
		}
		if got != c.want {
			t.Errorf("%s{key=%q}: got %v, want %v", c.name, c.key, got, c.want)
		}
	}
}

func TestCollectorDropsFreedBuffers(t *testing.T) {
	t.Parallel()

	reg := exchange.NewRegistry(nil, nil)
	defer reg.Close()
	reg.Init("a", 1, 8)
	reg.Init("b", 1, 8)

	c := NewCollector(reg, nil)
	if n := testutil.CollectAndCount(c, "framexchange_buffer_capacity_slots"); n != 2 {
		t.Fatalf("before free: %d series", n)
	}
	reg.Free("a")
	if n := testutil.CollectAndCount(c, "framexchange_buffer_capacity_slots"); n != 1 {
		t.Errorf("after free: %d series", n)
	}
}

func TestConsumerMetrics(t *testing.T) {
	t.Parallel()

	promReg := prometheus.NewRegistry()
	m := New(promReg)
	m.FramesConsumed.WithLabelValues("cam", "video").Add(3)
	m.BytesConsumed.WithLabelValues("cam").Add(300)
	m.FramesLogged.Inc()

	if got := testutil.ToFloat64(m.FramesConsumed.WithLabelValues("cam", "video")); got != 3 {
		t.Errorf("frames consumed: %v", got)
	}
	if got := testutil.ToFloat64(m.FramesLogged); got != 1 {
		t.Errorf("frames logged: %v", got)
	}
}
