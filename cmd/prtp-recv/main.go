// Command prtp-recv accepts a single prtp-send transfer and writes the
// received bytes to an output file, in order and bit-exact.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/prtp/internal/config"
	"github.com/mrcgq/prtp/internal/connection"
	"github.com/mrcgq/prtp/internal/metrics"
	"github.com/mrcgq/prtp/internal/netio"
)

func main() {
	localIP := flag.String("local-ip", "0.0.0.0", "local bind address")
	localPort := flag.Int("local-port", 9000, "local bind port")
	outputPath := flag.String("output", "", "path to write the received file")
	lossRate := flag.Float64("loss-rate", 0, "probability in [0,1] a segment is dropped")
	corruptionRate := flag.Float64("corruption-rate", 0, "probability in [0,1] a segment is corrupted")
	minDelay := flag.Float64("min-delay", 0, "minimum injected delay, seconds")
	maxDelay := flag.Float64("max-delay", 0, "maximum injected delay, seconds")
	configPath := flag.String("config", "", "optional YAML config overriding the built-in defaults")
	initConfig := flag.String("init-config", "", "write a starter YAML config to this path and exit")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics and /healthz on this address")
	flag.Parse()

	if *initConfig != "" {
		if err := config.WriteExampleConfig(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "prtp-recv: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *outputPath == "" {
		fmt.Fprintln(os.Stderr, "prtp-recv: --output is required")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prtp-recv: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	connCfg := connection.Config{
		Timeout:            cfg.TimeoutInterval(),
		SynTimeout:         cfg.SynTimeout(),
		SynRetries:         cfg.Handshake.SynRetries,
		DupAckThreshold:    cfg.Reliability.DupAckThreshold,
		MaxPayload:         cfg.Reliability.MaxPayload,
		AdvertisedWindow:   cfg.Reliability.AdvertisedWindow,
		SendBufferSegments: cfg.Reliability.SendBufferSegments,
		RetransmitCeiling:  cfg.Reliability.RetransmitCeiling,
		InitialCwnd:        cfg.Congestion.InitialCwnd,
		InitialSsthresh:    cfg.Congestion.InitialSsthresh,
		PollInterval:       100 * time.Millisecond,
	}

	impair := netio.Impairment{
		LossRate:       *lossRate,
		CorruptionRate: *corruptionRate,
		MinDelay:       time.Duration(*minDelay * float64(time.Second)),
		MaxDelay:       time.Duration(*maxDelay * float64(time.Second)),
	}

	local := fmt.Sprintf("%s:%d", *localIP, *localPort)
	transport, err := netio.Listen(local, impair, time.Now().UnixNano())
	if err != nil {
		fmt.Fprintf(os.Stderr, "prtp-recv: %v\n", err)
		os.Exit(1)
	}
	defer transport.Close()

	out, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prtp-recv: create output: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	receiver := connection.NewReceiver(transport, connCfg, out)

	var metricsServer *metrics.Server
	if *metricsAddr != "" {
		metricsServer = metrics.NewServer(*metricsAddr)
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return metrics.HealthStatus{Status: "healthy"}
		})
		if err := metricsServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "prtp-recv: metrics: %v\n", err)
			os.Exit(1)
		}
		defer metricsServer.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return receiver.Accept()
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-done:
				return nil
			case <-ticker.C:
				s := receiver.Stats()
				fmt.Fprintf(os.Stderr, "prtp-recv: received=%d bytes=%d rejected=%d\n",
					s.SegmentsReceived, s.BytesReceived, s.SegmentsRejected)
			}
		}
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "prtp-recv: transfer failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "prtp-recv: transfer complete")
}
