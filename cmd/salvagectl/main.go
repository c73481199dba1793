// Command salvagectl inspects and recovers the salvage dead letter queue.
//
//	salvagectl list --limit 20 --job-name send_email
//	salvagectl get <job-id>
//	salvagectl retry <job-id>
//	salvagectl retry --all --job-name send_email --rate 5
//	salvagectl purge --older-than-days 7
//	salvagectl count
//
// Configuration is read from --config (YAML) and SALVAGE_* environment
// variables. Retries are published to the RabbitMQ work exchange.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
