// Command cacheproxy is the process entry point: it takes one positional
// port argument, reads CLIENT_HANDLER_COUNT and CACHE_EXPIRED_TIME_MS from
// the environment, and runs the caching forward proxy until terminated.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/maxermolaev/cache-proxy-go/internal/admin"
	"github.com/maxermolaev/cache-proxy-go/internal/cache"
	"github.com/maxermolaev/cache-proxy-go/internal/config"
	"github.com/maxermolaev/cache-proxy-go/internal/logging"
	"github.com/maxermolaev/cache-proxy-go/internal/transport"
	"github.com/maxermolaev/cache-proxy-go/internal/workerpool"
)

// shutdownGrace bounds how long the worker pool's Shutdown waits for its
// executors before detaching. The cache's Destroy applies its own fixed
// 5-second grace to the expirer.
const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		printUsage(args[0])
		return 1
	}

	port := getPort(args[1])

	cfg, err := config.Load()
	if err != nil {
		logging.Log("Configuration error: %v", err)
		return 1
	}

	c, err := cache.New(cfg.CacheCapacity, cfg.CacheExpiry)
	if err != nil {
		logging.Log("Cache creation error: %v", err)
		return 1
	}
	defer c.Destroy()

	pool, err := workerpool.New(workerpool.Config{
		ExecutorCount: cfg.ExecutorCount,
		QueueCapacity: cfg.QueueCapacity,
	})
	if err != nil {
		logging.Log("Worker pool creation error: %v", err)
		return 1
	}
	defer pool.Shutdown(shutdownGrace)

	proxy := transport.New(c, pool, upstreamDialer)

	logging.Log("Proxy PID: %d", os.Getpid())

	adminSrv := admin.New(pool, c)
	go func() {
		if err := adminSrv.ListenAndServe(":0"); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log("Admin server error: %v", err)
		}
	}()
	defer adminSrv.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logging.Log("Shutdown signal received")
		_ = proxy.Close()
	}()

	addr := fmt.Sprintf(":%d", port)
	if err := proxy.ListenAndServe(addr); err != nil {
		logging.Log("Proxy listener stopped: %v", err)
	}

	return 0
}

func printUsage(progName string) {
	fmt.Printf("Usage: %s <port>\n", progName)
}

// getPort treats a malformed argument as a warning rather than a fatal
// error: it logs and falls through with whatever integer value resulted
// (zero lets the OS choose a port).
func getPort(portStr string) int {
	port, err := strconv.ParseInt(portStr, 0, 32)
	if err != nil {
		logging.Log("Port getting error: %v", err)
	}
	return int(port)
}

// upstreamDialer performs a real HTTP GET to the URL requestURL builds from
// the fingerprint's request target and Host header.
func upstreamDialer(fingerprint []byte) (io.ReadCloser, error) {
	resp, err := http.Get(requestURL(fingerprint))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// requestURL pulls just enough out of the verbatim fingerprint block to
// reach an origin: the request-target from the request line and the Host
// header, if present. Anything beyond that (query semantics, absolute-form
// request targets, TLS) is HTTP-stack detail outside the proxy's core
// caching and dispatch responsibilities, and is deliberately not reimplemented.
func requestURL(fingerprint []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(fingerprint))

	var target, host string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if target == "" {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				target = fields[1]
			}
			continue
		}
		if h, ok := strings.CutPrefix(line, "Host:"); ok {
			host = strings.TrimSpace(h)
			break
		}
	}

	if target == "" {
		target = "/"
	}
	if host == "" {
		host = "localhost"
	}
	return "http://" + host + target
}
