// Command relayhost runs the Relay Host: it accepts the tunnel's relay
// channel connection, opens real outbound TCP sockets on its behalf, and
// streams responses back under the batching discipline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/robin/relaytun/internal/config"
	"github.com/robin/relaytun/internal/relayserver"
	"github.com/robin/relaytun/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.LoadHostConfig()

	srv := relayserver.New()
	if err := srv.Start(fmt.Sprintf(":%d", cfg.ListenPort)); err != nil {
		util.LogError("failed to start relay host: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	util.StartReporter(ctx)
	pterm.Success.Println(fmt.Sprintf("relay host listening on %s", srv.Addr()))

	<-ctx.Done()
	util.LogInfo("relay host shutting down")
}
