package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/foundry-cloud/flow/internal/fakeapi"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	certPath := flag.String("cert", "", "TLS certificate")
	keyPath := flag.String("key", "", "TLS key")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	server := fakeapi.Demo(logger)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tls := *certPath != "" && *keyPath != ""
	fmt.Printf("Foundry mock API listening on %s (TLS: %v)\n", *addr, tls)
	fmt.Printf("  FOUNDRY_API_URL=%s FOUNDRY_TOKEN=%s FOUNDRY_PROJECT_NAME=%s FOUNDRY_SSH_KEY_NAME=%s\n",
		baseURL(*addr, tls), fakeapi.DemoToken, fakeapi.DemoProject, fakeapi.DemoSSHKeyName)

	var err error
	if tls {
		err = srv.ListenAndServeTLS(*certPath, *keyPath)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func baseURL(addr string, tls bool) string {
	if tls {
		return "https://" + addr
	}
	return "http://" + addr
}
