package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/omochice/chat-session/internal/client"
	"github.com/omochice/chat-session/internal/config"
	"github.com/omochice/chat-session/internal/metrics"
)

type options struct {
	username    string
	server      string
	transport   string
	codec       string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "chat-client",
		Short: "Join a chat room from the terminal",
		Long: `chat-client connects to a chat server, announces a username and
relays lines typed on stdin to the room.

Commands:
  /w <user-id> <text>   send a private message
  /typing on|off        set the typing indicator
  /users                list who is online
  /quit                 leave`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.Endpoint = opts.server
			}
			if flags.Changed("transport") {
				cfg.Transport = opts.transport
			}
			if flags.Changed("codec") {
				cfg.Codec = opts.codec
			}
			if opts.username == "" {
				return errors.New("--username is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts, os.Stdin, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.username, "username", "u", "", "name to announce to the room")
	flags.StringVar(&opts.server, "server", config.DefaultEndpoint, "server endpoint, overrides CHAT_SERVER_URL")
	flags.StringVar(&opts.transport, "transport", "", "gobwas, gorilla or nhooyr, overrides CHAT_TRANSPORT")
	flags.StringVar(&opts.codec, "codec", "", "proto or json, overrides CHAT_CODEC")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	// glog registers -v, -logtostderr and friends on the standard flag set
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	_ = flag.CommandLine.Parse(nil)
	return cmd
}

func run(ctx context.Context, cfg config.Config, opts options, in *os.File, out io.Writer) error {
	defer glog.Flush()

	var m *metrics.Metrics
	if opts.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		m = metrics.New(metrics.WithRegistry(registry))
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Errorf("[client]metrics server error = %v\n", err)
			}
		}()
		defer srv.Close()
	}

	r := newRenderer(out)
	c, err := client.New(cfg,
		client.WithMetrics(m),
		client.WithStateListener(r.state),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	r.bind(c)
	unsubscribe := c.Subscribe(r.refresh)
	defer unsubscribe()

	c.Connect(opts.username)
	return repl(ctx, c, in, r, term.IsTerminal(int(in.Fd())))
}
