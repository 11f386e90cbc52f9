package main

import (
	"os"
	"os/signal"
	"syscall"

	"fintelli/internal/bootstrap"
)

func main() {
	c := bootstrap.NewContainer()

	// Config, logger, stores, agents, orchestrator, API and workers.
	// Panics on any initialization error.
	c.MustInit()

	if err := c.Start(); err != nil {
		c.Log.Errorw("Failed to start", "error", err)
		c.Shutdown()
		os.Exit(1)
	}

	waitForShutdown(c)
	c.Shutdown()
}

// waitForShutdown blocks until a termination signal arrives or a fatal
// component error cancels the root context
func waitForShutdown(c *bootstrap.Container) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		c.Log.Infof("Received signal: %v", sig)
	case <-c.Context.Done():
		c.Log.Info("Context cancelled")
	}
}
