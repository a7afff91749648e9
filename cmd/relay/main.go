package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"whisper/internal/app"
	"whisper/internal/metrics"
	"whisper/internal/relay"
)

func main() {
	var cfgFile, listen string
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Store-and-forward relay for pre-key bundles and envelopes",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgFile, listen)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "f", "", "path to the config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides [Server] Listen")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgFile, listen string) error {
	cfg := new(app.Config)
	if cfgFile != "" {
		var err error
		if cfg, err = app.LoadFile(cfgFile); err != nil {
			return err
		}
	}
	if listen != "" {
		cfg.Server = &app.Server{Listen: listen}
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return err
	}
	lb, err := cfg.InitLogBackend()
	if err != nil {
		return err
	}
	defer lb.Close()
	log := lb.GetLogger("relay")

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srv := relay.NewServer(relay.WithMetrics(metrics.NewRelay(reg)), relay.WithLogger(log))

	hs := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Noticef("Listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Notice("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
