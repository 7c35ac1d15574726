package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smite/agent/config"
	"github.com/smite/agent/internal/adapter"
	"github.com/smite/agent/internal/communicator"
	"github.com/smite/agent/internal/firewall"
	"github.com/smite/agent/internal/httpserver"
	"github.com/smite/agent/internal/stats"
	"github.com/smite/agent/internal/wgadapter"
)

const Version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := initLogger(cfg.LogPath)
	defer logger.Sync()

	logger.Info("starting smite node agent",
		zap.String("version", Version),
		zap.String("panel", cfg.PanelURL),
		zap.String("node_name", cfg.NodeName),
		zap.String("role", cfg.NodeRole),
	)

	enableIPForwarding(logger)

	adapters := map[string]adapter.Adapter{
		"rathole":  adapter.NewRatholeAdapter(cfg.ConfigDir, logger),
		"backhaul": adapter.NewBackhaulAdapter(cfg.BackhaulConfigDir, logger),
		"chisel":   adapter.NewChiselAdapter(cfg.ConfigDir, logger),
		"frp":      adapter.NewFrpAdapter(cfg.ConfigDir, logger),
		"gost":     adapter.NewGostAdapter(cfg.ConfigDir, logger),
	}
	manager := adapter.NewManager(adapters, cfg.StateDir, logger)
	manager.SetFirewallTracker(firewall.NewTracker(logger))
	manager.RestoreTunnels()

	wgConfigDir := cfg.ConfigDir + "/wireguard"
	wg, err := wgadapter.New(wgConfigDir, logger)
	if err != nil {
		logger.Warn("wireguard mesh adapter unavailable, mesh endpoints will fail", zap.Error(err))
	}

	srv := httpserver.New(httpserver.Config{
		Manager:   manager,
		WG:        wg,
		NodeToken: cfg.NodeToken,
		Logger:    logger,
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
		logger.Info("node agent http surface listening", zap.String("addr", addr))
		if err := srv.Listen(addr); err != nil {
			logger.Error("http surface stopped", zap.Error(err))
		}
	}()

	client := communicator.NewClient(communicator.ClientConfig{
		PanelURL:  cfg.PanelURL,
		NodeToken: cfg.NodeToken,
		Version:   Version,
		Logger:    logger,
	})
	collector := stats.NewCollector()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	logger.Info("announce loop started", zap.Duration("interval", cfg.HeartbeatInterval))
	announce(logger, cfg, client, collector)

	for {
		select {
		case <-ticker.C:
			announce(logger, cfg, client, collector)

		case sig := <-quit:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if err := srv.Shutdown(); err != nil {
				logger.Warn("http surface shutdown error", zap.Error(err))
			}
			logger.Info("agent stopped gracefully")
			return
		}
	}
}

func announce(logger *zap.Logger, cfg *config.Config, client *communicator.Client, collector *stats.Collector) {
	systemStats, err := collector.Collect()
	if err != nil {
		logger.Warn("failed to collect stats", zap.Error(err))
	}

	req := communicator.AnnounceRequest{
		Name:      cfg.NodeName,
		Role:      cfg.NodeRole,
		IPAddress: outboundIP(),
		APIPort:   cfg.APIPort,
		Stats:     systemStats,
	}

	if _, err := client.Announce(req); err != nil {
		logger.Warn("panel announce failed", zap.Error(err))
		return
	}
	logger.Debug("panel announce succeeded")
}

// enableIPForwarding turns on IPv4 forwarding at startup, required for the
// WireGuard mesh overlay to route traffic between peers. Best-effort: a
// container without the right capability just logs and continues, matching
// wgadapter's own per-mesh forwarding enable.
func enableIPForwarding(logger *zap.Logger) {
	if err := os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1"), 0o644); err != nil {
		logger.Warn("failed to enable ip forwarding at startup", zap.Error(err))
		return
	}
	logger.Info("ipv4 forwarding enabled at startup")
}

// outboundIP picks the node's routable address by dialing a UDP socket to a
// public IP and reading the chosen local address back off the kernel's
// routing table — no packet is ever sent. Mirrors the adapter package's own
// gost outboundIP helper; kept local since nothing else in this binary
// needs it and the two modules share no package.
func outboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

func initLogger(logPath string) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	consoleCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		zapcore.DebugLevel,
	)

	cores := []zapcore.Core{consoleCore}

	if logPath != "" {
		if file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)
			fileCore := zapcore.NewCore(
				jsonEncoder,
				zapcore.AddSync(file),
				zapcore.InfoLevel,
			)
			cores = append(cores, fileCore)
		}
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller())
}
