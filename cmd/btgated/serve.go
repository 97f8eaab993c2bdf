package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/enbility/zeroconf/v3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/btgate/internal/config"
	"github.com/srg/btgate/internal/gatt"
	"github.com/srg/btgate/internal/host"
	"github.com/srg/btgate/internal/registry"
	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/internal/stack/fakestack"
	"github.com/srg/btgate/internal/stack/goble"
	"github.com/srg/btgate/pkg/rpc"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	Long: `Start the RPC server and bind it to the Bluetooth stack.

With --mock the server runs against an in-memory stack instead of real
hardware, which is useful for client development and integration tests.`,
	RunE: runServe,
}

var (
	serveConfigPath string
	serveListen     string
	serveMock       bool
	serveAnnounce   bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to YAML config file")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Use the in-memory mock stack instead of real hardware")
	serveCmd.Flags().BoolVar(&serveAnnounce, "announce", false, "Announce the RPC endpoint over mDNS")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if serveConfigPath != "" {
		loaded, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveAnnounce {
		cfg.Announce = true
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	sink := func(c stack.Category, ev stack.Event) {
		reg.Dispatch(c, ev)
	}

	var st stack.Stack
	if serveMock {
		fake := fakestack.New(sink, logger)
		defer fake.Stop()
		st = fake
		color.Yellow("Running with the mock stack; no real hardware is used")
	} else {
		real, err := goble.New(sink, logger)
		if err != nil {
			return fmt.Errorf("open Bluetooth stack: %w", err)
		}
		defer real.Stop()
		st = real
	}

	srv := rpc.NewServer(logger)
	timeouts := host.Timeouts{
		AdvertiseStart:  cfg.Timeouts.AdvertiseStart.Std(),
		ScannerRegister: cfg.Timeouts.ScannerRegister.Std(),
		DiscoveryStart:  cfg.Timeouts.DiscoveryStart.Std(),
		AdvertiseRetry:  cfg.Timeouts.AdvertiseRestartDelay.Std(),
	}
	host.New(logger, st, reg, timeouts, srv.Shutdown).Register(srv)
	gatt.New(logger, st, reg, cfg.Timeouts.GattOperation.Std()).Register(srv)

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}

	if cfg.Announce {
		shutdown, err := announce(cfg.AnnounceName, listener.Addr())
		if err != nil {
			logger.WithError(err).Warn("mDNS announcement failed")
		} else {
			defer shutdown()
		}
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	color.Green("Listening on %s", listener.Addr())
	return srv.Serve(listener)
}

// announce registers the RPC endpoint as an mDNS service.
func announce(name string, addr net.Addr) (func(), error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	server, err := zeroconf.Register(name, "_btgate._tcp", "local.", port, nil, nil)
	if err != nil {
		return nil, err
	}
	return func() { server.Shutdown() }, nil
}
