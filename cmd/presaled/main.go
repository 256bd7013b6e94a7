package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bunnyriven/cmd/internal/passphrase"
	"bunnyriven/services/presaled"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "presaled.yaml", "path to presaled configuration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sources := map[string]*passphrase.Source{}
	resolve := func(envVar string) (string, error) {
		src, ok := sources[envVar]
		if !ok {
			src = passphrase.NewSource(envVar)
			sources[envVar] = src
		}
		return src.Get()
	}

	if err := presaled.Run(ctx, cfgPath, resolve); err != nil {
		log.Printf("presaled: %v", err)
		os.Exit(1)
	}
}
