// Command ltchat runs the channel message relay.
//
//	ltchat serve              gateway with an embedded persistence worker
//	ltchat worker             persistence worker only
//	ltchat token --user-id 1  mint a development token
//	ltchat member add         grant channel membership
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logpkg "github.com/vovakirdan/ltchat/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger := logpkg.New("info", "console")
		logger.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
