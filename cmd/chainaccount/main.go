package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	chaincmd "github.com/louisbranch/chainaccount/internal/cmd/chainaccount"
)

func main() {
	cfg, args, err := chaincmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CHAINACCOUNT] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := chaincmd.Run(ctx, cfg, args, os.Stdout); err != nil {
		log.Fatalf("chainaccount: %v", err)
	}
}
