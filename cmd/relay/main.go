package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/omochice/chat-session/internal/config"
	"github.com/omochice/chat-session/internal/relay"
	"github.com/omochice/chat-session/pkg/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr      string
		path      string
		codecName string
	)
	cmd := &cobra.Command{
		Use:           "chat-relay",
		Short:         "Run an in-memory chat room server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer glog.Flush()
			codec, err := protocol.CodecByName(codecName)
			if err != nil {
				return err
			}
			srv := relay.NewServer(addr, path, relay.NewHub(codec))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				errc <- srv.Start()
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
				glog.Infof("[relay]shutting down\n")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				return err
			}
			return <-errc
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":5000", "address to listen on")
	flags.StringVar(&path, "path", config.DefaultPath, "socket endpoint path")
	flags.StringVar(&codecName, "codec", protocol.CodecProto, "frame codec, proto or json")

	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	_ = flag.CommandLine.Parse(nil)
	return cmd
}
