package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/framexchange/internal/api"
	"github.com/zsiec/framexchange/internal/certs"
	"github.com/zsiec/framexchange/internal/config"
	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/internal/framelog"
	"github.com/zsiec/framexchange/internal/framering"
	"github.com/zsiec/framexchange/internal/metrics"
	"github.com/zsiec/framexchange/internal/notify"
	"github.com/zsiec/framexchange/internal/replay"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "create the configured buffers, start their producers and consumers and serve the debug API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file", EnvVars: []string{config.EnvPrefix + "CONFIG"}},
			&cli.StringFlag{Name: "api-addr", Usage: "debug API listen address"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "capture-dir", Usage: "write a framelog capture per buffer into this directory"},
			&cli.BoolFlag{Name: "tls", Usage: "serve the debug API over HTTPS with a self-signed certificate"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			return run(c.Context, log, cfg)
		},
	}
}

// loadConfig layers the file, the environment and then explicit flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if c.IsSet("api-addr") {
		cfg.API.Addr = c.String("api-addr")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("capture-dir") {
		cfg.CaptureDir = c.String("capture-dir")
	}
	if c.IsSet("tls") {
		cfg.API.TLS = c.Bool("tls")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(parent context.Context, log *slog.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var alloc framering.Allocator
	if cfg.OffHeap {
		alloc = framering.OffHeapAllocator()
	} else {
		alloc = framering.NewHeapAllocator(cfg.MemoryLimit)
	}

	wake := newWakeTransport()
	bridge := notify.NewBridge(log)
	bridge.Initialize(wake)
	reg := exchange.NewRegistry(log, bridge, exchange.WithAllocator(alloc))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(reg, bridge),
	)
	m := metrics.New(promReg)

	log.Info("framexchange starting",
		"version", version,
		"api", cfg.API.Addr,
		"buffers", len(cfg.Buffers),
		"off_heap", cfg.OffHeap,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// abort unwinds a failed setup. Goroutines already started must finish
	// before the deferred capture and source closers run.
	abort := func(err error) error {
		cancel()
		reg.Close()
		_ = g.Wait()
		return err
	}

	for i, bc := range cfg.Buffers {
		if err := reg.Init(bc.Key, bc.Capacity, bc.MaxFrameSize); err != nil {
			return abort(fmt.Errorf("buffer %q: %w", bc.Key, err))
		}
		target := int64(i + 1)
		ch := wake.add(target)
		bridge.Register(bc.Key, target)

		blog := log.With("buffer", bc.Key)
		cons := &consumer{log: blog, reg: reg, key: bc.Key, wake: ch, metrics: m}
		if cfg.CaptureDir != "" {
			w, closeCapture, err := openCapture(cfg.CaptureDir, bc.Key)
			if err != nil {
				return abort(err)
			}
			defer closeCapture()
			cons.capture = w
		}
		g.Go(func() error { return cons.run(ctx) })

		if bc.Source.Type == config.SourceNone {
			continue
		}
		src, closeSrc, err := openSource(bc)
		if err != nil {
			return abort(fmt.Errorf("buffer %q: %w", bc.Key, err))
		}
		defer closeSrc()
		p := replay.NewPlayer(blog, reg, bc.Key, src, replay.Options{
			Realtime: bc.Source.Realtime,
			Loop:     bc.Source.Loop,
		})
		g.Go(func() error {
			if err := p.Run(ctx); err != nil {
				return fmt.Errorf("player %q: %w", bc.Key, err)
			}
			st := p.Stats()
			blog.Info("player finished", "pushed", st.Pushed, "dropped", st.Dropped, "loops", st.Loops)
			return nil
		})
	}

	handler := api.New(log, reg, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg})).Handler()
	apiSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.API.TLS {
		cert, err := certs.Generate(0)
		if err != nil {
			return abort(fmt.Errorf("generate certificate: %w", err))
		}
		log.Info("certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		apiSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}}
		apiSrv.Handler = api.AltSvc(handler, cfg.API.Addr)
		g.Go(func() error {
			return api.ServeHTTP3(ctx, log, cfg.API.Addr, handler, cert.TLSCert)
		})
	}

	g.Go(func() error {
		log.Info("debug API listening", "addr", cfg.API.Addr, "tls", cfg.API.TLS)
		var err error
		if cfg.API.TLS {
			err = apiSrv.ListenAndServeTLS("", "")
		} else {
			err = apiSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	// Closing the registry wakes every producer and consumer blocked on a
	// buffer so the group can drain.
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		reg.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openCapture creates <dir>/<key>.fxlog. The returned func flushes and
// closes it.
func openCapture(dir, key string) (*framelog.Writer, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("capture dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, key+".fxlog"))
	if err != nil {
		return nil, nil, fmt.Errorf("capture file: %w", err)
	}
	bw := bufio.NewWriter(f)
	w, err := framelog.NewWriter(bw)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return w, func() {
		if err := bw.Flush(); err != nil {
			slog.Warn("capture flush failed", "key", key, "error", err)
		}
		f.Close()
	}, nil
}
