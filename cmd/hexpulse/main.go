package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/EmpoweredVote/hexpulse/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env.local")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:])
	stop()
	os.Exit(int(code))
}
