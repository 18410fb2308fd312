package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgeloop/forgeloop/pkg/utils"
	"github.com/forgeloop/forgeloop/pkg/webui"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a live progress view over HTTP",
	Long: `Serve starts a small web server that streams this project's progress log
over a websocket, so a long build running in another terminal can be
followed from a browser.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := os.Getwd()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &webui.Server{Root: root, Logger: utils.GetLogger(false)}
		return srv.ListenAndServe(ctx, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7777", "listen address")
}
