package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/EmpoweredVote/hexpulse/internal/cli"
	"github.com/joho/godotenv"
)

// One-shot pipeline run for the container entrypoint. Extra arguments are passed to "run",
// e.g. --force.
func main() {
	_ = godotenv.Load(".env.local")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, append([]string{"run"}, os.Args[1:]...))
	stop()
	os.Exit(int(code))
}
