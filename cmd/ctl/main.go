package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cmd "github.com/jpfielding/imgdiff.go/cmd/ctl/cmd"
	"github.com/jpfielding/imgdiff.go/pkg/logging"
)

var (
	GitSHA string = "NA"
)

func main() {
	// register sigterm for graceful shutdown
	ctx, cnc := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cnc()
	go func() {
		defer cnc() // this cnc is from notify and removes the signal so subsequent ctrl-c will restore kill functions
		<-ctx.Done()
	}()
	slog.SetDefault(logging.Logger(os.Stderr, false, slog.LevelInfo))
	ctx = logging.AppendCtx(ctx,
		slog.Group("imgctl",
			slog.String("git", GitSHA),
		),
		logging.RunID(),
	)
	if err := cmd.NewRoot(ctx, GitSHA).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "imgctl:", err)
		cnc()
		os.Exit(1)
	}
}
