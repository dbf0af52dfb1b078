package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/zsiec/framexchange/internal/certs"
)

func certCommand() *cli.Command {
	return &cli.Command{
		Name:  "cert",
		Usage: "generate a self-signed certificate for the debug API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: ".", Usage: "directory for cert.pem and key.pem"},
			&cli.DurationFlag{Name: "validity", Value: 30 * 24 * time.Hour, Usage: "certificate lifetime, capped at 397 days"},
			&cli.StringSliceFlag{Name: "host", Usage: "additional DNS name or IP address"},
		},
		Action: func(c *cli.Context) error {
			cert, err := certs.Generate(c.Duration("validity"), c.StringSlice("host")...)
			if err != nil {
				return err
			}
			certPEM, keyPEM, err := cert.PEM()
			if err != nil {
				return err
			}
			dir := c.String("out")
			if err := os.WriteFile(filepath.Join(dir, "cert.pem"), certPEM, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, "key.pem"), keyPEM, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "fingerprint %s\nexpires %s\n",
				cert.FingerprintBase64(), cert.NotAfter.Format(time.RFC3339))
			return nil
		},
	}
}
