package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "framexchange",
		Usage:   "bounded frame exchange buffers between media producers and consumers",
		Version: version,
		Commands: []*cli.Command{
			runCommand(),
			inspectCommand(),
			exportCommand(),
			certCommand(),
			{
				Name:  "version",
				Usage: "print the build version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("framexchange failed", "error", err)
		os.Exit(1)
	}
}
