package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prismer-ai/chatsync/echoserver"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveEchoCmd)
	serveEchoCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}

var serveEchoCmd = &cobra.Command{
	Use:   "serve-echo",
	Short: "Run the reference echo server",
	Long:  "Serve the chat protocol on /ws, answering every message with \"Received: <text>\".",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           echoserver.New(logrus.StandardLogger()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logrus.WithField("addr", serveAddr).Info("Echo server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logrus.Info("Shutting down echo server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
