package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/internal/framelog"
	"github.com/zsiec/framexchange/internal/framering"
	"github.com/zsiec/framexchange/internal/metrics"
	"github.com/zsiec/framexchange/media"
)

// consumer drains one buffer each time the notification bridge wakes it.
type consumer struct {
	log     *slog.Logger
	reg     *exchange.Registry
	key     string
	wake    <-chan struct{}
	metrics *metrics.Metrics
	capture *framelog.Writer
}

func (c *consumer) run(ctx context.Context) error {
	var f media.Frame
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		}

		for {
			n, ok := c.reg.Len(c.key)
			if !ok {
				c.log.Info("buffer gone, consumer exiting")
				return nil
			}
			if n == 0 {
				break
			}
			if err := c.reg.PopInto(c.key, &f); err != nil {
				if errors.Is(err, framering.ErrClosed) || errors.Is(err, exchange.ErrKeyNotFound) {
					return nil
				}
				return err
			}
			c.handle(&f)
		}
	}
}

func (c *consumer) handle(f *media.Frame) {
	c.metrics.FramesConsumed.WithLabelValues(c.key, f.Kind.String()).Inc()
	c.metrics.BytesConsumed.WithLabelValues(c.key).Add(float64(len(f.Payload)))

	if c.capture == nil {
		return
	}
	if err := c.capture.WriteFrame(f); err != nil {
		c.log.Warn("capture write failed, disabling capture", "error", err)
		c.capture = nil
		return
	}
	c.metrics.FramesLogged.Inc()
}
