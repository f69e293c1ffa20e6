// eid-picc emulates an eID card and serves it to remote readers.
//
// The card implements the chip side of PACE with the passwords and
// protocols of its configuration file. Readers connect over TCP using the
// vpcd framing, as eid-pace -remote does.
//
// Usage:
//
//	eid-picc -config card.yaml [options]
//
// Options:
//
//	-config            YAML configuration file (required)
//	-listen            listen address, overrides the configuration
//	-write-card-access write the card's EF.CardAccess (DER) to this file
//	-v                 debug logging
//
// Example configuration:
//
//	listen: "127.0.0.1:35963"
//	protocols:
//	  - protocol: id-PACE-ECDH-GM-AES-CBC-CMAC-128
//	    parameter_id: 13
//	passwords:
//	  can: "500540"
//	  pin: "123456"
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"

	"github.com/backkem/eid/internal/config"
	"github.com/backkem/eid/pkg/pace/picc"
	"github.com/backkem/eid/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	listen := flag.String("listen", "", "listen address")
	writeCardAccess := flag.String("write-card-access", "", "write EF.CardAccess to this file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("-config is required")
	}
	cfg, err := config.LoadCard(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = level
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	piccConfig, err := cfg.PICC()
	if err != nil {
		log.Fatalf("invalid card configuration: %v", err)
	}
	piccConfig.LoggerFactory = loggerFactory
	card, err := picc.New(piccConfig)
	if err != nil {
		log.Fatalf("create card: %v", err)
	}

	if *writeCardAccess != "" {
		ef, err := card.CardAccess()
		if err != nil {
			log.Fatalf("encode EF.CardAccess: %v", err)
		}
		if err := os.WriteFile(*writeCardAccess, ef, 0o644); err != nil {
			log.Fatalf("write EF.CardAccess: %v", err)
		}
		log.Printf("EF.CardAccess written to %s", *writeCardAccess)
	}

	if err := serve(cfg, card, loggerFactory); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

// serve runs the card server until interrupted.
func serve(cfg *config.Card, card *picc.Card, loggerFactory logging.LoggerFactory) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := transport.NewServer(transport.ServerConfig{
		Handler:       card,
		ATR:           cfg.ATRBytes(),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	log.Printf("Card listening on %s", l.Addr())

	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	srv.Close()
	if err := <-served; err != nil && !errors.Is(err, transport.ErrClosed) {
		return err
	}
	return nil
}
