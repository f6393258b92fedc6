package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/okian/standings/internal/ctl"
	"github.com/okian/standings/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	// Logs go to stderr so --format json output stays parseable.
	if err := logger.InitWithOptions(logger.Options{Writer: os.Stderr}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	_ = logger.SetLevelString("warn")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctl.NewRootCommand(ctl.WithLogger(logger.Get())).ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("standingsctl: " + err.Error() + "\n")
		return 1
	}
	return 0
}
