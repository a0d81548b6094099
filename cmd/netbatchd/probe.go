package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/netbatch/client"
	"github.com/cyberinferno/netbatch/config"
	"github.com/cyberinferno/netbatch/connection"
	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/transport"
)

type probeOptions struct {
	addr     string
	count    int
	size     int
	channel  string
	batching bool
	tick     time.Duration
	timeout  time.Duration
	verbose  bool

	// Packet sizes should match the server's.
	maxPacketSize           int
	unreliableMaxPacketSize int
}

func newProbeCmd() *cobra.Command {
	defaults := config.DefaultConfig()
	opts := probeOptions{
		maxPacketSize:           defaults.MaxPacketSize,
		unreliableMaxPacketSize: defaults.UnreliableMaxPacketSize,
		addr:     "127.0.0.1:7777",
		count:    10,
		size:     32,
		channel:  transport.Reliable.String(),
		batching: true,
		tick:     50 * time.Millisecond,
		timeout:  5 * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send messages to an echo server and report what comes back",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd.OutOrStdout(), opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.addr, "addr", opts.addr, "server address")
	fs.IntVar(&opts.count, "count", opts.count, "number of messages to send")
	fs.IntVar(&opts.size, "size", opts.size, "payload size in bytes")
	fs.StringVar(&opts.channel, "channel", opts.channel, "reliable or unreliable")
	fs.BoolVar(&opts.batching, "batching", opts.batching, "batch outbound messages (must match the server)")
	fs.DurationVar(&opts.tick, "tick", opts.tick, "client flush interval")
	fs.DurationVar(&opts.timeout, "timeout", opts.timeout, "how long to wait for echoes")
	fs.BoolVar(&opts.verbose, "verbose", opts.verbose, "log at debug level")
	fs.IntVar(&opts.maxPacketSize, config.FlagMaxPacketSize, opts.maxPacketSize, "reliable channel packet size (must match the server)")
	fs.IntVar(&opts.unreliableMaxPacketSize, config.FlagUnreliableMaxPacketSize, opts.unreliableMaxPacketSize, "unreliable channel packet size (must match the server)")

	return cmd
}

func parseChannel(s string) (transport.Channel, error) {
	switch s {
	case transport.Reliable.String():
		return transport.Reliable, nil
	case transport.Unreliable.String():
		return transport.Unreliable, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", s)
	}
}

// probePayload returns message i padded to size bytes.
func probePayload(i, size int) []byte {
	msg := []byte(fmt.Sprintf("probe-%06d", i))
	for len(msg) < size {
		msg = append(msg, '.')
	}

	return msg
}

func runProbe(out io.Writer, opts probeOptions) error {
	channel, err := parseChannel(opts.channel)
	if err != nil {
		return err
	}

	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log := logger.NewConsoleLogger(nil, serviceName+"-probe", level, true)

	received := make(chan connection.Message, opts.count)
	cfg := client.DefaultConfig(opts.addr)
	cfg.Batching = opts.batching
	cfg.TickInterval = opts.tick
	cfg.Transport.Limits = limits(config.Config{
		MaxPacketSize:           opts.maxPacketSize,
		UnreliableMaxPacketSize: opts.unreliableMaxPacketSize,
	})

	c, err := client.Dial(cfg, client.Options{
		Logger: log,
		OnMessage: func(msg connection.Message) {
			select {
			case received <- msg:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.addr, err)
	}
	defer c.Close()

	start := time.Now()
	sent := 0
	for i := range opts.count {
		if err := c.Send(probePayload(i, opts.size), channel); err != nil {
			fmt.Fprintf(out, "send %d: %v\n", i, err)
			continue
		}
		sent++
	}

	deadline := time.After(opts.timeout)
	got := 0
	for got < sent {
		select {
		case msg := <-received:
			got++
			fmt.Fprintf(out, "%4d %-10s %d bytes ts=%.3f\n", got, msg.Channel, len(msg.Data), msg.Timestamp)
		case <-deadline:
			fmt.Fprintf(out, "timeout: %d of %d echoes after %s\n", got, sent, opts.timeout)
			return fmt.Errorf("probe incomplete")
		}
	}

	if sent < opts.count {
		fmt.Fprintf(out, "rejected: %d of %d messages not sent\n", opts.count-sent, opts.count)
		return fmt.Errorf("probe incomplete")
	}

	fmt.Fprintf(out, "ok: %d/%d echoes in %s\n", got, sent, time.Since(start).Round(time.Millisecond))
	return nil
}
