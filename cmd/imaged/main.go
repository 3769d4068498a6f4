// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/mediadriver/internal/adminapi"
	"github.com/nishisan-dev/mediadriver/internal/channelendpoint"
	"github.com/nishisan-dev/mediadriver/internal/config"
	"github.com/nishisan-dev/mediadriver/internal/counters"
	"github.com/nishisan-dev/mediadriver/internal/driver"
	"github.com/nishisan-dev/mediadriver/internal/logging"
	"github.com/nishisan-dev/mediadriver/internal/protocol"
)

func main() {
	configPath := flag.String("config", "/etc/mediadriver/driver.yaml", "path to driver config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("driver error", "error", err)
		os.Exit(1)
	}
}

// run constrói o canal de recepção, o registro de imagens e, se habilitada,
// a superfície de administração, e bloqueia até ctx ser cancelado.
func run(ctx context.Context, cfg *config.DriverConfig, logger *slog.Logger) error {
	feedbackLimit := cfg.FlowControl.FeedbackRateLimitRaw
	var endpoint *channelendpoint.Endpoint
	var err error
	if cfg.Network.Multicast {
		groupAddr, addrErr := net.ResolveUDPAddr("udp", cfg.Network.ListenAddress)
		if addrErr != nil {
			return fmt.Errorf("resolving multicast group address: %w", addrErr)
		}
		endpoint, err = channelendpoint.NewMulticastEndpoint(cfg.Network.ListenAddress, groupAddr, cfg.Network.Interface, feedbackLimit, logger)
	} else {
		endpoint, err = channelendpoint.NewUnicastEndpoint(cfg.Network.ListenAddress, feedbackLimit, logger)
	}
	if err != nil {
		return fmt.Errorf("opening channel endpoint: %w", err)
	}
	defer endpoint.Close()

	tuning := driver.Tuning{
		ReceiverTickInterval:   cfg.Liveness.StatusMessageTimeout / 4,
		ConductorTickInterval:  cfg.Liveness.StatusMessageTimeout / 4,
		StatusMessageTimeout:   cfg.Liveness.StatusMessageTimeout,
		LossFeedbackDelay:      cfg.LossDetect.FeedbackDelay,
		TermLength:             cfg.Term.LengthRaw,
		ConfiguredWindowLength: cfg.FlowControl.InitialWindowLengthRaw,
		ImageLivenessTimeout:   cfg.Liveness.ImageTimeout,
	}

	d := driver.New(endpoint, counters.NewRegistry(), tuning, logger)

	go d.RunReceiver(ctx)
	go d.RunConductor(ctx)
	go ingestLoop(ctx, endpoint, d, logger)

	if cfg.Admin.Enabled {
		srv, hostMonitor := newAdminServer(cfg, d, logger)
		go func() {
			logger.Info("admin surface listening", "addr", cfg.Admin.Listen)
			if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
				logger.Error("admin surface stopped", "error", serveErr)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Liveness.ImageTimeout)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
			hostMonitor.Stop()
		}()
	}

	logger.Info("driver started", "listen", cfg.Network.ListenAddress, "multicast", cfg.Network.Multicast)
	<-ctx.Done()
	logger.Info("driver stopped")
	return nil
}

// ingestLoop lê datagramas do socket de recepção do canal e os repassa ao
// driver. É a única goroutine que lê do socket de recepção; o
// initialTermID de uma imagem nova é o termID do primeiro frame observado
// dessa sessão, lido aqui antes de delegar a HandlePacket.
func ingestLoop(ctx context.Context, endpoint *channelendpoint.Endpoint, d *driver.Driver, logger *slog.Logger) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, sourceAddr, err := endpoint.ReadPacket(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Debug("reading packet", "error", err)
				continue
			}
		}

		frame := buf[:n]
		_, _, _, _, _, _, _, termID, _, decodeErr := protocol.DecodeDataFrameHeader(frame)
		if decodeErr != nil {
			logger.Debug("dropping malformed frame", "error", decodeErr, "source", sourceAddr)
			continue
		}

		if err := d.HandlePacket(frame, sourceAddr, sourceAddr, termID); err != nil {
			logger.Debug("dropping frame", "error", err, "source", sourceAddr)
		}
	}
}

func newAdminServer(cfg *config.DriverConfig, d *driver.Driver, logger *slog.Logger) (*http.Server, *adminapi.HostMonitor) {
	acl := adminapi.NewACL(cfg.Admin.ParsedCIDRs)
	hostMonitor := adminapi.NewHostMonitor(logger)
	hostMonitor.Start()

	router := adminapi.NewRouter([]adminapi.ImageSource{d}, acl, hostMonitor)
	return &http.Server{
		Addr:    cfg.Admin.Listen,
		Handler: router,
	}, hostMonitor
}
