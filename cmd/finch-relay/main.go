// Command finch-relay forwards UDP datagrams through a pair
// of finch endpoints, demonstrating queue backpressure end to end.
//
// Datagrams arriving on the listen port are sent into the fabric;
// the egress endpoint writes them to the relay address.
// The --stall flag makes the egress refuse a fraction of packets,
// which parks them in the incoming queue until the scheduled flush,
// without reordering or losing them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/akamensky/argparse"
	"github.com/finchnet/finch"
)

func main() {
	parser := argparse.NewParser("finch-relay", "UDP relay over a finch endpoint pair")
	listenPort := parser.Int("l", "listen", &argparse.Options{
		Required: true, Help: "Port to listen on",
	})
	relayAddr := parser.String("r", "relay", &argparse.Options{
		Required: true, Help: "Address to relay datagrams to",
	})
	stall := parser.Float("s", "stall", &argparse.Options{
		Help: "Probability that the egress stalls a packet", Default: 0.0,
	})
	verbose := parser.Flag("v", "verbose", &argparse.Options{
		Help: "Enable debug logging",
	})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, log, *listenPort, *relayAddr, *stall); err != nil {
		log.Error("Relay failed", "err", err)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	log *slog.Logger,
	listenPort int,
	relayAddr string,
	stall float64,
) error {
	out, err := net.Dial("udp", relayAddr)
	if err != nil {
		return fmt.Errorf("dialing relay address: %w", err)
	}
	defer out.Close()

	in, err := net.ListenUDP("udp", &net.UDPAddr{Port: listenPort})
	if err != nil {
		return fmt.Errorf("binding listen port: %w", err)
	}
	defer in.Close()

	// Declared before the receive closure so a stalled packet
	// can schedule its own flush.
	var egress *finch.Endpoint

	egress = finch.NewEndpoint(log, finch.EndpointConfig{
		Name: "egress",
		Receive: func(_ *finch.Endpoint, _ uint32, payload [][]byte) int {
			var size int
			for _, f := range payload {
				size += len(f)
			}

			if stall > 0 && rand.Float64() < stall {
				log.Debug("Stalling packet", "size", size)
				time.AfterFunc(10*time.Millisecond, func() {
					egress.FlushIncoming()
				})
				return 0
			}

			buf := make([]byte, 0, size)
			for _, f := range payload {
				buf = append(buf, f...)
			}

			if _, err := out.Write(buf); err != nil {
				log.Warn("Dropping packet on failed relay write", "err", err)
			}
			return size
		},
	})

	ingress := finch.NewEndpoint(log, finch.EndpointConfig{
		Name: "ingress",
		// Nothing flows back toward the listen socket.
		Receive: func(_ *finch.Endpoint, _ uint32, payload [][]byte) int {
			var size int
			for _, f := range payload {
				size += len(f)
			}
			return size
		},
	})
	defer ingress.Close()
	defer egress.Close()

	if err := finch.Pair(ingress, egress); err != nil {
		return fmt.Errorf("pairing endpoints: %w", err)
	}

	// Unblock the read loop on shutdown.
	go func() {
		<-ctx.Done()
		_ = in.Close()
	}()

	log.Info(
		"Relaying",
		"listen", in.LocalAddr().String(),
		"relay", relayAddr,
		"stall", stall,
	)

	buf := make([]byte, 64<<10)
	for {
		n, _, err := in.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("Shutting down")
				return nil
			}
			return fmt.Errorf("reading datagram: %w", err)
		}

		// A synchronous delivery writes out before Send returns;
		// a queued packet is copied, so reusing buf is safe.
		ingress.Send(buf[:n])
	}
}
