package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/zsiec/framexchange/internal/framelog"
	"github.com/zsiec/framexchange/internal/mpegts"
	"github.com/zsiec/framexchange/media"
)

const (
	exportVideoPID = 0x100
	exportAudioPID = 0x101
)

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "remux a framelog capture of H.264 and ADTS frames into an MPEG transport stream",
		ArgsUsage: "<in.fxlog> <out.ts>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "hevc", Usage: "announce video as H.265 instead of H.264"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("export needs an input capture and an output file", 2)
			}
			in, err := os.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer in.Close()
			out, err := os.Create(c.Args().Get(1))
			if err != nil {
				return err
			}
			defer out.Close()

			bw := bufio.NewWriter(out)
			n, err := export(bw, bufio.NewReader(in), c.Bool("hevc"))
			if err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "exported %d frames\n", n)
			return nil
		},
	}
}

// export writes every frame of a capture as one PES unit. Frame timestamps
// in microseconds become 90 kHz PTS values.
func export(w io.Writer, r io.Reader, hevc bool) (int, error) {
	lr, err := framelog.NewReader(r, framelog.DefaultMaxPayload)
	if err != nil {
		return 0, err
	}
	videoType := mpegts.StreamTypeH264
	if hevc {
		videoType = mpegts.StreamTypeH265
	}
	tw, err := mpegts.NewWriter(w,
		mpegts.Stream{PID: exportVideoPID, Type: videoType},
		mpegts.Stream{PID: exportAudioPID, Type: mpegts.StreamTypeAAC},
	)
	if err != nil {
		return 0, err
	}

	var (
		f media.Frame
		n int
	)
	for {
		err := lr.ReadFrame(&f)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		pid := uint16(exportVideoPID)
		if f.Kind == media.KindAudio {
			pid = exportAudioPID
		}
		if err := tw.WriteUnit(pid, int64(f.Timestamp*9/100), f.Payload); err != nil {
			return n, err
		}
		n++
	}
}
