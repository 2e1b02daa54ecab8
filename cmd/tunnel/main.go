// Command tunnel runs the Tunnel Endpoint: it reads inbound IPv4/TCP
// segments from a virtual interface and forwards flows to a Relay Host
// over the relay channel. Opening and configuring the virtual interface's
// file descriptor is an external collaborator's responsibility — this
// binary only accepts the already-configured fd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/robin/relaytun/internal/iface"
	"github.com/robin/relaytun/internal/tunnelendpoint"
	"github.com/robin/relaytun/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	relayURL := flag.String("relay", "", "relay channel URL, e.g. ws://127.0.0.1:3000/relay")
	fd := flag.Uint64("fd", 0, "already-open virtual interface file descriptor")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		util.EnableDebug()
	}

	if *relayURL == "" {
		util.LogError("missing -relay")
		os.Exit(1)
	}

	dev, err := iface.FromFD(uintptr(*fd), "tun")
	if err != nil {
		util.LogError("failed to open virtual interface: %v", err)
		os.Exit(1)
	}

	ep := tunnelendpoint.New(dev, func(s tunnelendpoint.State) {
		util.LogInfo("tunnel state: %s", s)
	})

	util.StartReporter(ctx)

	if err := ep.Start(ctx, *relayURL); err != nil {
		util.LogError("failed to start tunnel endpoint: %v", err)
		os.Exit(1)
	}

	pterm.Success.Println(fmt.Sprintf("tunnel endpoint connected to %s", *relayURL))

	<-ctx.Done()
	ep.Stop()
	util.LogInfo("tunnel endpoint stopped")
}
