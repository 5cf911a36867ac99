// Package main starts the planning poker service and handles termination.
//
// The process is a transport adapter around session, round, and vote
// lifecycle so estimation state remains owned by the poker domain.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pokercmd "github.com/louisbranch/pointing.space/internal/cmd/poker"
	"github.com/louisbranch/pointing.space/internal/platform/config"
)

func main() {
	cfg, err := pokercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[POKER] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pokercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
