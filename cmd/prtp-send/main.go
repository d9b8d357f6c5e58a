// Command prtp-send transmits a file to a prtp-recv listener, running the
// reliability and congestion layers in internal/connection over a UDP
// transport with optional impairment injection for testing.
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
	localPort := flag.Int("local-port", 0, "local bind port (0 picks any free port)")
	remoteIP := flag.String("remote-ip", "127.0.0.1", "receiver address")
	remotePort := flag.Int("remote-port", 9000, "receiver port")
	filePath := flag.String("file", "", "path of the file to send")
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
			fmt.Fprintf(os.Stderr, "prtp-send: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "prtp-send: --file is required")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prtp-send: %v\n", err)
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
	remote := fmt.Sprintf("%s:%d", *remoteIP, *remotePort)
	transport, err := netio.Dial(local, remote, impair, time.Now().UnixNano())
	if err != nil {
		fmt.Fprintf(os.Stderr, "prtp-send: %v\n", err)
		os.Exit(1)
	}
	defer transport.Close()

	file, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prtp-send: open input: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	sender := connection.NewSender(transport, connCfg)

	var metricsServer *metrics.Server
	if *metricsAddr != "" {
		metricsServer = metrics.NewServer(*metricsAddr)
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return metrics.HealthStatus{Status: stateHealth(sender.State()), Uptime: 0}
		})
		if err := metricsServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "prtp-send: metrics: %v\n", err)
			os.Exit(1)
		}
		defer metricsServer.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	progressDone := make(chan struct{})

	g.Go(func() error {
		defer close(progressDone)
		if err := sender.Open(); err != nil {
			return err
		}
		return sender.Transfer(file)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		var prev connection.Stats
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-progressDone:
				return nil
			case <-ticker.C:
				s := sender.Stats()
				fmt.Fprintf(os.Stderr, "prtp-send: sent=%d sent_bytes=%d retransmits(timeout=%d fast=%d)\n",
					s.SegmentsSent, s.BytesSent, s.RetransmitsTimeout, s.RetransmitsFast)
				if metricsServer != nil {
					m := metricsServer.Metrics()
					recordStatsDelta(m, prev, s)
					cwnd, ssthresh, state := sender.CongestionSnapshot()
					m.CongestionWindow.Set(cwnd)
					m.SlowStartThresh.Set(ssthresh)
					m.ControllerState.Set(float64(state))
					m.ConnectionState.Set(float64(sender.State()))
				}
				prev = s
			}
		}
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "prtp-send: transfer failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "prtp-send: transfer complete")
}

func stateHealth(s connection.State) string {
	if s == connection.Done {
		return "healthy"
	}
	if s == connection.Closed {
		return "unhealthy"
	}
	return "healthy"
}

func recordStatsDelta(m *metrics.Metrics, prev, cur connection.Stats) {
	m.SegmentsSent.Add(float64(cur.SegmentsSent - prev.SegmentsSent))
	m.BytesSent.Add(float64(cur.BytesSent - prev.BytesSent))
	m.DuplicateAcks.Add(float64(cur.DuplicateAcks - prev.DuplicateAcks))
	m.SegmentsRejected.Add(float64(cur.SegmentsRejected - prev.SegmentsRejected))
	if d := cur.RetransmitsTimeout - prev.RetransmitsTimeout; d > 0 {
		m.Retransmits.WithLabelValues("timeout").Add(float64(d))
	}
	if d := cur.RetransmitsFast - prev.RetransmitsFast; d > 0 {
		m.Retransmits.WithLabelValues("fast").Add(float64(d))
	}
}
