package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/zsiec/framexchange/internal/framelog"
	"github.com/zsiec/framexchange/media"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the frames recorded in a framelog capture",
		ArgsUsage: "<file.fxlog>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-payload", Value: framelog.DefaultMaxPayload, Usage: "reject records larger than this many bytes"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("inspect needs exactly one capture file", 2)
			}
			f, err := os.Open(c.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()
			return inspect(c.App.Writer, bufio.NewReader(f), c.Int("max-payload"))
		},
	}
}

func inspect(out io.Writer, r io.Reader, maxPayload int) error {
	lr, err := framelog.NewReader(r, maxPayload)
	if err != nil {
		return err
	}

	var (
		f      media.Frame
		frames int
		bytes  int
	)
	for {
		err := lr.ReadFrame(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", frames, err)
		}
		fmt.Fprintln(out, describe(&f))
		frames++
		bytes += len(f.Payload)
	}
	fmt.Fprintf(out, "%d frames, %d payload bytes\n", frames, bytes)
	return nil
}

func describe(f *media.Frame) string {
	if v, ok := f.Video(); ok {
		return fmt.Sprintf("video ts=%d len=%d %dx%d rot=%d type=%d",
			f.Timestamp, len(f.Payload), v.Width, v.Height, v.Rotation, v.FrameType)
	}
	a, _ := f.Audio()
	return fmt.Sprintf("audio ts=%d len=%d rate=%d ch=%d",
		f.Timestamp, len(f.Payload), a.SampleRate, a.Channels)
}
