// Command duoreport runs the realtime collaborative report editor relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Maheshnath09/duoreport/internal/discovery"
	"github.com/Maheshnath09/duoreport/internal/room"
	"github.com/Maheshnath09/duoreport/internal/server"
	"github.com/Maheshnath09/duoreport/internal/store"
	"github.com/Maheshnath09/duoreport/internal/summarize"
	"github.com/Maheshnath09/duoreport/internal/ws"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	addr := pflag.String("addr", ":8000", "address to listen on")
	storeKind := pflag.String("store", "redis", "document store backend: redis or bolt")
	redisAddr := pflag.String("redis", envOr("REDIS_ADDR", "localhost:6379"), "redis server address")
	boltPath := pflag.String("bolt-path", "duoreport.db", "bolt database file (store=bolt)")
	autosave := pflag.Duration("autosave", 5*time.Second, "autosave interval per room")
	ttl := pflag.Duration("ttl", time.Hour, "persisted document expiry, refreshed on every flush")
	summarizeURL := pflag.String("summarize-url", summarize.DefaultEndpoint, "summarization inference endpoint")
	mdns := pflag.Bool("mdns", false, "advertise the server on the LAN over mDNS")
	pflag.Parse()

	st, closeStore, err := openStore(*storeKind, *redisAddr, *boltPath)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := room.NewRegistry(st, *autosave, *ttl)
	manager := ws.NewManager(registry)
	summarizer := summarize.New(*summarizeURL, summarize.DefaultTimeout)
	srv := server.New(registry, manager, st, summarizer, *ttl)

	if *mdns {
		port, err := listenPort(*addr)
		if err != nil {
			return err
		}
		svc, err := discovery.Register(port)
		if err != nil {
			return err
		}
		defer svc.Shutdown()
	}

	httpServer := &http.Server{Addr: *addr, Handler: srv.Router()}
	go func() {
		slog.Info("duoreport listening", "addr", *addr, "store", *storeKind)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "error", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("signal caught, shutting down", "sig", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)

	// Flush every live room so the store holds the latest edits even when
	// no autosave tick had a chance to run.
	registry.Shutdown()
	return nil
}

func openStore(kind, redisAddr, boltPath string) (store.Store, func(), error) {
	switch kind {
	case "redis":
		rs := store.NewRedisStore(redisAddr)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("could not connect to redis at %s: %w", redisAddr, err)
		}
		slog.Info("connected to redis", "addr", redisAddr)
		return rs, func() { rs.Close() }, nil
	case "bolt":
		bs, err := store.NewBoltStore(boltPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened bolt store", "path", boltPath)
		return bs, func() { bs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return 0, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	return port, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
