// arpd — user-space proxy ARP daemon for IPv4-over-Ethernet.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	nethttp "net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	bolt "go.etcd.io/bbolt"

	"github.com/arpd/arpd/internal/audit"
	"github.com/arpd/arpd/internal/cache"
	"github.com/arpd/arpd/internal/config"
	"github.com/arpd/arpd/internal/control"
	"github.com/arpd/arpd/internal/ifworker"
	"github.com/arpd/arpd/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to configuration file")
	debugPort := flag.String("debug-port", "", "enable pprof debug server on this port (e.g. 6060)")
	flag.Parse()

	if *debugPort != "" {
		runtime.SetMutexProfileFraction(5)
		runtime.SetBlockProfileRate(1)
		go func() {
			addr := "127.0.0.1:" + *debugPort
			fmt.Fprintf(os.Stderr, "pprof debug server on http://%s/debug/pprof/\n", addr)
			if err := nethttp.ListenAndServe(addr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server failed: %v\n", err)
			}
		}()
	}

	go func() {
		sigUsr1 := make(chan os.Signal, 1)
		signal.Notify(sigUsr1, syscall.SIGUSR1)
		for range sigUsr1 {
			buf := make([]byte, 64*1024*1024)
			n := runtime.Stack(buf, true)
			path := "/tmp/arpd-goroutines.txt"
			if err := os.WriteFile(path, buf[:n], 0644); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write goroutine dump: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "goroutine dump written to %s (%d bytes)\n", path, n)
			}
		}
	}()

	cfg, err := config.Load(*configPath, flag.Args()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("arpd starting", "config", *configPath, "interfaces", cfg.Server.Interfaces)

	db, err := bolt.Open(cfg.Server.DBPath, 0600, nil)
	if err != nil {
		logger.Error("opening binding database", "path", cfg.Server.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bindingCache, err := cache.New(db, logger)
	if err != nil {
		logger.Error("initializing cache", "error", err)
		os.Exit(1)
	}
	bindingCache.SetDefaultTTL(cfg.Server.DefaultTTL)

	auditLog, err := audit.NewLog(db)
	if err != nil {
		logger.Error("initializing audit log", "error", err)
		os.Exit(1)
	}

	for _, s := range cfg.Static {
		mac, _ := s.ParsedMAC()
		bindingCache.Add(s.ParsedIP(), mac, cache.Permanent)
	}

	workers := make([]*ifworker.Worker, 0, len(cfg.Server.Interfaces))
	for _, name := range cfg.Server.Interfaces {
		w, err := ifworker.New(name, bindingCache, logger)
		if err != nil {
			logger.Error("starting interface worker", "interface", name, "error", err)
			os.Exit(1)
		}
		workers = append(workers, w)
	}
	registry := ifworker.NewRegistry(workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bindingCache.RunAging(ctx)
	defer bindingCache.Stop()

	for _, w := range workers {
		go func(w *ifworker.Worker) {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("interface worker exited", "interface", w.Iface.Name, "error", err)
			}
		}(w)
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := nethttp.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
			if err := nethttp.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", cfg.Server.ControlAddr)
	if err != nil {
		logger.Error("listening on control address", "addr", cfg.Server.ControlAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("control-plane server listening", "addr", cfg.Server.ControlAddr)

	srv := control.New(bindingCache, registry, auditLog, logger)
	if err := srv.Serve(ln); err != nil {
		logger.Error("control server stopped", "error", err)
		os.Exit(1)
	}
}
