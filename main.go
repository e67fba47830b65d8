package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"climate/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %s\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, err := cli.New()
	if err != nil {
		log.Printf("new cli: %s\n", err)
		os.Exit(1)
	}

	if err = cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
