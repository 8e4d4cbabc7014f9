package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xxxsen/davkit/cmd/davc/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.NewRoot().ExecuteContext(ctx); err != nil {
		log.Printf("exec cmd failed, err:%v", err)
		stop()
		os.Exit(1)
	}
}
