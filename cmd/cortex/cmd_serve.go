package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cortex/internal/httpserver"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP surface (§6)",
	Long: `serve starts the JSON-over-HTTP admin surface: /health, /filesystem/*,
/search, /sessions/{thread}/*, and /automation/extract/{thread}. It blocks
until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default: [server].host from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default: [server].port from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	host := serveHost
	if host == "" {
		host = current.Config.Server.Host
	}
	port := servePort
	if port == 0 {
		port = current.Config.Server.Port
	}

	srv := httpserver.New(current, httpserver.Addr(host, port), current.Config.Server.CORSOrigins)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Printf("listening on %s:%d\n", host, port)
	return srv.ListenAndServe(ctx)
}
