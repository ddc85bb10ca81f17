// Command mockrpc runs the mock RPC service on RPC_PORT (default 4000)
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/mockrpc"
)

const defaultPort = 4000

func main() {
	port := flag.Int("port", envPort(), "Port to listen on (defaults to $RPC_PORT or 4000)")
	flag.Parse()

	logger := logging.MustLogger("mockrpc")
	defer logger.Close()

	srv, err := mockrpc.Listen(fmt.Sprintf(":%d", *port), logger)
	if err != nil {
		log.Fatalf("mock RPC server failed: %v", err)
	}
	fmt.Printf("Mock RPC server running on %s\n", mockrpc.EndpointURL(*port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
		os.Exit(1)
	}
}

func envPort() int {
	if v := os.Getenv("RPC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return defaultPort
}
