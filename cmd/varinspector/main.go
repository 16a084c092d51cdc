// Command varinspector serves the variable inspector panel API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/varinspector/internal/api/http"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/config"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/kernel/launcher"
	"github.com/GriffinCanCode/varinspector/internal/languages"
	"github.com/GriffinCanCode/varinspector/internal/server"
)

// serveFlags holds command-line overrides of the environment configuration.
type serveFlags struct {
	host         string
	port         string
	gatewayURL   string
	gatewayToken string
	logLevel     string
	dev          bool
	interval     time.Duration
	maxRows      int
}

var flags serveFlags

var rootCmd = &cobra.Command{
	Use:   "varinspector",
	Short: "Variable inspector for interactive kernel sessions",
	Long: `varinspector lists the variables of a live interpreter session and
streams changes to a panel over HTTP and WebSocket.

Sessions run in-process (JavaScript via goja, Go via yaegi) or on a
Jupyter kernel gateway. Configuration comes from the environment
(PORT, HOST, GATEWAY_URL, ...); flags override it.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the panel API server",
	RunE:  runServe,
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List inspectable and in-process languages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printLanguages(cmd.OutOrStdout(), languages.Default())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "varinspector", apihttp.Version)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&flags.host, "host", "", "listen host (HOST)")
	f.StringVar(&flags.port, "port", "", "listen port (PORT)")
	f.StringVar(&flags.gatewayURL, "gateway-url", "", "kernel gateway URL; enables gateway kernels (GATEWAY_URL)")
	f.StringVar(&flags.gatewayToken, "gateway-token", "", "kernel gateway token (GATEWAY_TOKEN)")
	f.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.BoolVar(&flags.dev, "dev", false, "console logging and gin debug mode (LOG_DEV)")
	f.DurationVar(&flags.interval, "interval", -1, "background inspection interval, 0 disables (INSPECT_INTERVAL)")
	f.IntVar(&flags.maxRows, "max-rows", 0, "row cap of matrix queries (MATRIX_MAX_ROWS)")

	rootCmd.AddCommand(serveCmd, languagesCmd, versionCmd)
}

// apply overrides cfg with the flags that were set.
func (f serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Server.Host = f.host
	}
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("gateway-url") {
		cfg.Gateway.URL = f.gatewayURL
		cfg.Gateway.Enabled = f.gatewayURL != ""
	}
	if changed("gateway-token") {
		cfg.Gateway.Token = f.gatewayToken
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("dev") {
		cfg.Logging.Development = f.dev
	}
	if changed("interval") && f.interval >= 0 {
		cfg.Inspector.Interval = f.interval
	}
	if changed("max-rows") && f.maxRows > 0 {
		cfg.Inspector.MatrixMaxRows = f.maxRows
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags.apply(cmd, cfg)

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		return err
	}
	logger.Info("Shut down gracefully")
	return nil
}

func printLanguages(w io.Writer, registry *languages.Registry) error {
	_, err := fmt.Fprintf(w, "inspectable: %s\nin-process:  %s\n",
		strings.Join(registry.Languages(), ", "),
		strings.Join(launcher.Languages(), ", "),
	)
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
