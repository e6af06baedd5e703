package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/server"
)

func testOptions(t *testing.T) *Options {
	t.Helper()
	return &Options{
		Host:      "localhost",
		Port:      8086,
		DataDir:   t.TempDir(),
		Store:     "duckdb",
		Cache:     "lru",
		CacheSize: 8,
		CacheTTL:  "1m",
		LogLevel:  "error",
	}
}

func TestWithServer_ClosesOnError(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := testOptions(t)
	opts.Cache, opts.RedisAddr = "redis", mr.Addr()

	errListen := errors.New("address already in use")
	err := withServer(context.Background(), opts, func(srv *server.Server) error {
		if mr.CurrentConnectionCount() == 0 {
			t.Error("redis cache not connected")
		}
		return errListen
	})
	if !errors.Is(err, errListen) {
		t.Fatalf("err = %v, want %v", err, errListen)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mr.CurrentConnectionCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("redis connections still open: %d", mr.CurrentConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The duckdb file is released, so a second server can open it.
	again := testOptions(t)
	again.DataDir = opts.DataDir
	if err := withServer(context.Background(), again, func(*server.Server) error { return nil }); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestWithServer_SetupErrors(t *testing.T) {
	for name, mod := range map[string]func(*Options){
		"store": func(o *Options) { o.Store = "sqlite" },
		"cache": func(o *Options) { o.Cache = "memcached" },
		"ttl":   func(o *Options) { o.CacheTTL = "soon" },
	} {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t)
			mod(opts)
			called := false
			err := withServer(context.Background(), opts, func(*server.Server) error {
				called = true
				return nil
			})
			if err == nil || !strings.HasPrefix(err.Error(), "setup: ") {
				t.Fatalf("err = %v", err)
			}
			if called {
				t.Fatal("fn ran without a server")
			}
		})
	}
}
