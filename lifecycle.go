package singleton

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// CloseOnSignal closes the instance when one of sigs is received or ctx is
// done, whichever happens first. With no signals it listens for SIGINT and
// SIGTERM. The signal handler is removed once the instance is closed.
func (i *Instance) CloseOnSignal(ctx context.Context, sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, sigs...)
	go func() {
		defer signal.Stop(sigC)
		select {
		case sig := <-sigC:
			i.l.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
			i.l.Info("context done, shutting down", "err", ctx.Err())
		case <-i.doneC:
			return
		}
		if err := i.Close(); err != nil {
			i.l.Error("error during shutdown", "err", err)
		}
	}()
}
