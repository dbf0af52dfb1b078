package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/internal/framelog"
	"github.com/zsiec/framexchange/internal/framering"
	"github.com/zsiec/framexchange/media"
)

type pushed struct {
	key     string
	kind    media.Kind
	payload []byte
	ts      uint64
	video   media.VideoMeta
	audio   media.AudioMeta
}

type recordingSink struct {
	mu     sync.Mutex
	frames []pushed
	err    error
	limit  int
}

func (s *recordingSink) PushVideo(key string, payload []byte, meta media.VideoMeta, ts uint64) (framering.Handle, error) {
	return s.record(pushed{key: key, kind: media.KindVideo, payload: payload, ts: ts, video: meta})
}

func (s *recordingSink) PushAudio(key string, payload []byte, meta media.AudioMeta, ts uint64) (framering.Handle, error) {
	return s.record(pushed{key: key, kind: media.KindAudio, payload: payload, ts: ts, audio: meta})
}

func (s *recordingSink) record(p pushed) (framering.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(p.payload) > s.limit {
		return framering.Handle{}, framering.ErrPayloadTooLarge
	}
	if s.err != nil {
		return framering.Handle{}, s.err
	}
	p.payload = append([]byte(nil), p.payload...)
	s.frames = append(s.frames, p)
	return framering.Handle{}, nil
}

func (s *recordingSink) got() []pushed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pushed(nil), s.frames...)
}

func TestPlayerSyntheticVideo(t *testing.T) {
	t.Parallel()

	src, err := NewSyntheticSource(SyntheticConfig{
		Kind:     media.KindVideo,
		Size:     8,
		Interval: 40 * time.Millisecond,
		Count:    5,
		Video:    media.VideoMeta{Width: 640, Height: 360, Rotation: 90},
		GOP:      2,
	})
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	p := NewPlayer(nil, sink, "cam", src, Options{})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := sink.got()
	if len(got) != 5 {
		t.Fatalf("pushed %d frames, want 5", len(got))
	}
	for i, f := range got {
		if f.key != "cam" || f.kind != media.KindVideo {
			t.Fatalf("frame %d: key %q kind %v", i, f.key, f.kind)
		}
		if f.ts != uint64(i)*40_000 {
			t.Errorf("frame %d: ts %d", i, f.ts)
		}
		if !bytes.Equal(f.payload, bytes.Repeat([]byte{byte(i)}, 8)) {
			t.Errorf("frame %d: payload %v", i, f.payload)
		}
		wantType := media.FrameTypeDelta
		if i%2 == 0 {
			wantType = media.FrameTypeKey
		}
		if f.video.FrameType != wantType || f.video.Rotation != 90 {
			t.Errorf("frame %d: meta %+v", i, f.video)
		}
	}
	if st := p.Stats(); st.Pushed != 5 || st.LastTS != 160_000 {
		t.Errorf("stats: %+v", st)
	}
}

func TestPlayerLoopKeepsTimestampsIncreasing(t *testing.T) {
	t.Parallel()

	src, _ := NewSyntheticSource(SyntheticConfig{Kind: media.KindAudio, Size: 4, Interval: 20 * time.Millisecond, Count: 3})
	sink := &recordingSink{}
	p := NewPlayer(nil, sink, "mic", src, Options{Loop: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.got()) < 10 {
		if time.Now().After(deadline) {
			t.Fatal("player stalled")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := sink.got()
	for i := 1; i < len(got); i++ {
		if got[i].ts != got[i-1].ts+20_000 {
			t.Fatalf("frame %d: ts %d after %d", i, got[i].ts, got[i-1].ts)
		}
	}
	if p.Stats().Loops == 0 {
		t.Error("no loop recorded")
	}
}

func TestPlayerDropsOversizeAndStopsOnClose(t *testing.T) {
	t.Parallel()

	src, _ := NewSyntheticSource(SyntheticConfig{Kind: media.KindAudio, Size: 16, Interval: time.Millisecond, Count: 4})
	sink := &recordingSink{limit: 8}
	p := NewPlayer(nil, sink, "mic", src, Options{})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := p.Stats(); st.Dropped != 4 || st.Pushed != 0 {
		t.Errorf("stats: %+v", st)
	}

	src.Rewind()
	closed := &recordingSink{err: framering.ErrClosed}
	p = NewPlayer(nil, closed, "mic", src, Options{Loop: true})
	if err := p.Run(context.Background()); err != nil {
		t.Errorf("closed buffer: got %v, want nil", err)
	}

	src.Rewind()
	broken := &recordingSink{err: exchange.ErrKeyNotFound}
	p = NewPlayer(nil, broken, "mic", src, Options{})
	if err := p.Run(context.Background()); !errors.Is(err, exchange.ErrKeyNotFound) {
		t.Errorf("missing key: got %v", err)
	}
}

func TestPlayerRealtimePacingHonoursCancel(t *testing.T) {
	t.Parallel()

	src, _ := NewSyntheticSource(SyntheticConfig{Kind: media.KindVideo, Size: 1, Interval: time.Hour})
	sink := &recordingSink{}
	p := NewPlayer(nil, sink, "cam", src, Options{Realtime: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if n := len(sink.got()); n != 1 {
		t.Fatalf("pushed %d frames before the second was due, want 1", n)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("paced player ignored cancellation")
	}
}

func TestPlayerIntoRegistry(t *testing.T) {
	t.Parallel()

	reg := exchange.NewRegistry(nil, nil)
	defer reg.Close()
	if err := reg.Init("cam", 16, 64); err != nil {
		t.Fatal(err)
	}
	src, _ := NewSyntheticSource(SyntheticConfig{Kind: media.KindVideo, Size: 32, Interval: time.Millisecond, Count: 10})
	if err := NewPlayer(nil, reg, "cam", src, Options{}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	var f media.Frame
	for i := 0; i < 10; i++ {
		if err := reg.PopInto("cam", &f); err != nil {
			t.Fatal(err)
		}
		if f.Payload[0] != byte(i) {
			t.Fatalf("frame %d: payload starts with %d", i, f.Payload[0])
		}
	}
}

func TestPlayerStopsWhenBufferFreed(t *testing.T) {
	t.Parallel()

	reg := exchange.NewRegistry(nil, nil)
	defer reg.Close()
	if err := reg.Init("cam", 64, 64); err != nil {
		t.Fatal(err)
	}
	src, _ := NewSyntheticSource(SyntheticConfig{Kind: media.KindVideo, Size: 8, Interval: 5 * time.Millisecond})
	p := NewPlayer(nil, reg, "cam", src, Options{Realtime: true})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for p.Stats().Pushed == 0 {
		select {
		case <-deadline:
			t.Fatal("no frame pushed")
		case <-time.After(time.Millisecond):
		}
	}
	reg.Free("cam")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Free: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("player kept running after Free")
	}
}

func TestPlayerUnknownKeyStopsCleanly(t *testing.T) {
	t.Parallel()

	reg := exchange.NewRegistry(nil, nil)
	defer reg.Close()
	src, _ := NewSyntheticSource(SyntheticConfig{Kind: media.KindAudio, Size: 8, Interval: time.Millisecond, Count: 3})
	p := NewPlayer(nil, reg, "gone", src, Options{})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := p.Stats(); st.Pushed != 0 {
		t.Errorf("pushed %d frames into a missing buffer", st.Pushed)
	}
}

func TestSyntheticSourceValidation(t *testing.T) {
	t.Parallel()

	bad := []SyntheticConfig{
		{Size: 0, Interval: time.Millisecond},
		{Size: 1, Interval: 0},
		{Kind: media.KindVideo, Size: 1, Interval: time.Millisecond, Video: media.VideoMeta{Rotation: 30}},
	}
	for i, cfg := range bad {
		if _, err := NewSyntheticSource(cfg); err == nil {
			t.Errorf("config %d accepted", i)
		}
	}
}

func TestLogSourceReplaysCapture(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := framelog.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	frames := []media.Frame{
		media.NewVideoFrame([]byte("key"), media.VideoMeta{Width: 4, Height: 4, FrameType: media.FrameTypeKey}, 100),
		media.NewAudioFrame([]byte("pcm"), media.AudioMeta{SampleRate: 16000, Channels: 1}, 110),
	}
	for i := range frames {
		if err := w.WriteFrame(&frames[i]); err != nil {
			t.Fatal(err)
		}
	}

	src, err := NewLogSource(bytes.NewReader(buf.Bytes()), 0)
	if err != nil {
		t.Fatal(err)
	}
	for pass := 0; pass < 2; pass++ {
		var f media.Frame
		for i, want := range frames {
			if err := src.Next(&f); err != nil {
				t.Fatalf("pass %d frame %d: %v", pass, i, err)
			}
			if f.Kind != want.Kind || string(f.Payload) != string(want.Payload) || f.Timestamp != want.Timestamp {
				t.Fatalf("pass %d frame %d: %+v", pass, i, f)
			}
		}
		if err := src.Next(&f); err != io.EOF {
			t.Fatalf("pass %d: got %v, want io.EOF", pass, err)
		}
		if err := src.Rewind(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMP4SourceAnnexBConversion(t *testing.T) {
	t.Parallel()

	sample := []byte{0, 0, 0, 2, 0x65, 0xAA, 0, 0, 0, 1, 0x06}
	src := &MP4Source{
		kind:      media.KindVideo,
		video:     media.VideoMeta{Width: 1280, Height: 720},
		annexB:    true,
		paramSets: []byte{0, 0, 0, 1, 0x67, 0, 0, 0, 1, 0x68},
		samples: []sampleRef{
			{ts: 0, sync: true, data: sample},
			{ts: 33_333, sync: false, data: sample[:6]},
		},
	}

	var f media.Frame
	if err := src.Next(&f); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 1, 0x67, 0, 0, 0, 1, 0x68, 0, 0, 0, 1, 0x65, 0xAA, 0, 0, 0, 1, 0x06}
	if !bytes.Equal(f.Payload, want) {
		t.Fatalf("keyframe payload: % x", f.Payload)
	}
	if v, _ := f.Video(); v.FrameType != media.FrameTypeKey || v.Width != 1280 {
		t.Errorf("keyframe meta: %+v", v)
	}

	if err := src.Next(&f); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.Payload, []byte{0, 0, 0, 1, 0x65, 0xAA}) || f.Timestamp != 33_333 {
		t.Fatalf("delta frame: % x at %d", f.Payload, f.Timestamp)
	}
	if v, _ := f.Video(); v.FrameType != media.FrameTypeDelta {
		t.Errorf("delta meta: %+v", v)
	}
	if err := src.Next(&f); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestMP4SourceProgressiveRead(t *testing.T) {
	t.Parallel()

	file := []byte("....AAAABBBCC")
	src := &MP4Source{
		rs:    bytes.NewReader(file),
		kind:  media.KindAudio,
		audio: media.AudioMeta{SampleRate: 44100, Channels: 2},
		samples: []sampleRef{
			{ts: 0, sync: true, offset: 4, size: 4},
			{ts: 23_219, sync: true, offset: 8, size: 3},
			{ts: 46_439, sync: true, offset: 11, size: 2},
		},
	}
	if src.Len() != 3 {
		t.Fatalf("Len: %d", src.Len())
	}

	var f media.Frame
	for _, want := range []string{"AAAA", "BBB", "CC"} {
		if err := src.Next(&f); err != nil {
			t.Fatal(err)
		}
		if string(f.Payload) != want {
			t.Fatalf("got %q, want %q", f.Payload, want)
		}
		if a, ok := f.Audio(); !ok || a.SampleRate != 44100 {
			t.Errorf("audio meta: %+v ok=%v", a, ok)
		}
	}
}

func TestNewMP4SourceRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := NewMP4Source(bytes.NewReader([]byte("definitely not an mp4 file")), media.KindVideo); err == nil {
		t.Fatal("garbage input accepted")
	}
}

func TestToMicros(t *testing.T) {
	t.Parallel()

	if got := toMicros(90_000, 90_000); got != 1_000_000 {
		t.Errorf("90kHz: got %d", got)
	}
	if got := toMicros(1024, 48_000); got != 21_333 {
		t.Errorf("48kHz: got %d", got)
	}
}
