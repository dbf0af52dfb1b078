package media

import (
	"bytes"
	"testing"
)

func TestFrameVariantChecked(t *testing.T) {
	t.Parallel()

	v := NewVideoFrame([]byte("AAAA"), VideoMeta{Width: 640, Height: 480, Rotation: 90, FrameType: FrameTypeKey}, 10)
	if _, ok := v.Audio(); ok {
		t.Fatal("Audio() on a video frame should report false")
	}
	meta, ok := v.Video()
	if !ok {
		t.Fatal("Video() on a video frame should report true")
	}
	if meta.Width != 640 || meta.Height != 480 || meta.Rotation != 90 {
		t.Errorf("video meta: got %+v", meta)
	}

	a := NewAudioFrame([]byte("BB"), AudioMeta{SampleRate: 48000, Channels: 2}, 20)
	if _, ok := a.Video(); ok {
		t.Fatal("Video() on an audio frame should report false")
	}
	am, ok := a.Audio()
	if !ok || am.SampleRate != 48000 || am.Channels != 2 {
		t.Errorf("audio meta: got %+v ok=%v", am, ok)
	}
}

func TestFrameSetRetags(t *testing.T) {
	t.Parallel()

	f := NewVideoFrame(nil, VideoMeta{Width: 1}, 0)
	f.SetAudio(AudioMeta{SampleRate: 8000, Channels: 1})
	if f.Kind != KindAudio {
		t.Fatalf("kind: got %v, want audio", f.Kind)
	}
	if _, ok := f.Video(); ok {
		t.Error("stale video metadata visible after SetAudio")
	}
}

func TestFrameCopyFromReusesBuffer(t *testing.T) {
	t.Parallel()

	dst := Frame{Payload: make([]byte, 0, 16)}
	backing := &dst.Payload[:1][0]

	src := NewAudioFrame([]byte("hello"), AudioMeta{SampleRate: 44100, Channels: 2}, 99)
	dst.CopyFrom(&src)

	if !bytes.Equal(dst.Payload, []byte("hello")) {
		t.Fatalf("payload: got %q", dst.Payload)
	}
	if &dst.Payload[0] != backing {
		t.Error("CopyFrom reallocated despite sufficient capacity")
	}
	src.Payload[0] = 'x'
	if dst.Payload[0] != 'h' {
		t.Error("CopyFrom aliased the source payload")
	}
	if am, ok := dst.Audio(); !ok || am.SampleRate != 44100 {
		t.Errorf("audio meta after copy: %+v ok=%v", am, ok)
	}
	if dst.Timestamp != 99 {
		t.Errorf("timestamp: got %d, want 99", dst.Timestamp)
	}
}

func TestValidRotation(t *testing.T) {
	t.Parallel()

	for _, deg := range []int{0, 90, 180, 270} {
		if !ValidRotation(deg) {
			t.Errorf("ValidRotation(%d) = false", deg)
		}
	}
	for _, deg := range []int{-90, 45, 360} {
		if ValidRotation(deg) {
			t.Errorf("ValidRotation(%d) = true", deg)
		}
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	if k, err := ParseKind("audio"); err != nil || k != KindAudio {
		t.Errorf("ParseKind(audio) = %v, %v", k, err)
	}
	if _, err := ParseKind("subtitle"); err == nil {
		t.Error("ParseKind(subtitle) should fail")
	}
	if KindVideo.String() != "video" {
		t.Errorf("KindVideo.String() = %q", KindVideo.String())
	}
}
