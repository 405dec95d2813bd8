package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SabrinaJewson/ghmd/internal/config"
	"github.com/SabrinaJewson/ghmd/internal/logging"
	"github.com/SabrinaJewson/ghmd/internal/renderer"
	"github.com/SabrinaJewson/ghmd/internal/server"
	"github.com/SabrinaJewson/ghmd/internal/templater"
	"github.com/SabrinaJewson/ghmd/internal/watcher"
)

// shutdownTimeout bounds how long open connections get to resolve after a
// termination signal before the process gives up on them.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve <file.md>",
	Short: "Serve a live preview of a markdown file",
	Long: `Serve a live preview of a markdown file.

The file is watched for changes; connected browsers update in place without
reloading. Rendering goes through the GitHub render API, so a token is
required (render.token, GHMD_RENDER_TOKEN, or --token).`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to serve on")
	serveCmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().StringP("token", "t", "", "Bearer token for the render API")
	serveCmd.Flags().String("theme", config.DefaultTheme, "Page theme (dark, light)")
	serveCmd.Flags().String("title", "", "Page title (defaults to the file path)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("render.token", serveCmd.Flags().Lookup("token"))
	viper.BindPFlag("preview.theme", serveCmd.Flags().Lookup("theme"))
	viper.BindPFlag("preview.title", serveCmd.Flags().Lookup("title"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Preview.Title == "" {
		cfg.Preview.Title = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fw, err := watcher.Watch(ctx, logger, args[0])
	if err != nil {
		return fmt.Errorf("watching %s: %w", args[0], err)
	}
	defer fw.Close()

	rend := renderer.New(logger, renderer.Options{
		APIURL:  cfg.Render.APIURL,
		IconURL: cfg.Render.IconURL,
		Token:   cfg.Render.Token,
		Timeout: cfg.Render.Timeout,
		Rate:    cfg.Render.Rate,
		Burst:   cfg.Render.Burst,
	})

	tmpl, err := templater.New(cfg.Preview.Title, cfg.Preview.Theme)
	if err != nil {
		return err
	}

	srv := server.New(cfg, logger, fw.Path(), fw.Feed(), rend, tmpl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, err, "shutdown failed")
		}
		cancel()
	}()

	fmt.Printf("Serving %s at http://%s:%d/\n", fw.Path(), cfg.Server.Host, cfg.Server.Port)

	return srv.Start(ctx)
}
