package main

import (
	"fmt"
	"os"

	"github.com/zsiec/framexchange/internal/config"
	"github.com/zsiec/framexchange/internal/framelog"
	"github.com/zsiec/framexchange/internal/replay"
	"github.com/zsiec/framexchange/media"
)

// openSource builds the replay source a buffer is configured with. The
// returned func releases any file it opened.
func openSource(bc config.BufferConfig) (replay.Source, func(), error) {
	sc := bc.Source
	kind, err := media.ParseKind(sc.Kind)
	if err != nil {
		return nil, nil, err
	}
	noop := func() {}

	switch sc.Type {
	case config.SourceSynthetic:
		src, err := replay.NewSyntheticSource(replay.SyntheticConfig{
			Kind:     kind,
			Size:     sc.Size,
			Interval: sc.Interval,
			Count:    sc.Count,
			GOP:      sc.GOP,
			Video:    media.VideoMeta{Width: sc.Width, Height: sc.Height, Rotation: sc.Rotation},
			Audio:    media.AudioMeta{SampleRate: sc.SampleRate, Channels: sc.Channels},
		})
		if err != nil {
			return nil, nil, err
		}
		return src, noop, nil

	case config.SourceMP4, config.SourceTS, config.SourceLog:
		f, err := os.Open(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		var src replay.Source
		switch sc.Type {
		case config.SourceMP4:
			src, err = replay.NewMP4Source(f, kind)
		case config.SourceTS:
			src, err = replay.NewTSSource(f, kind)
		default:
			src, err = replay.NewLogSource(f, max(bc.MaxFrameSize, framelog.DefaultMaxPayload))
		}
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("%s: %w", sc.Path, err)
		}
		return src, func() { f.Close() }, nil
	}
	return nil, nil, fmt.Errorf("source type %q has no producer", sc.Type)
}
