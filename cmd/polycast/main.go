package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"polycast/internal/app"
	"polycast/internal/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().String("host", "0.0.0.0", "HTTP listen host")
	rootCmd.PersistentFlags().Int("http-port", 8080, "HTTP listen port")
	rootCmd.PersistentFlags().
		String("snapshot-path", "./polycast.db", "Path to the room snapshot database")
	rootCmd.PersistentFlags().String("admin-key", "", "Admin API key (empty disables admin endpoints)")
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key for transcription")
	rootCmd.PersistentFlags().String("google-api-key", "", "Google API key for translation")
	rootCmd.PersistentFlags().Bool("text-mode", false, "Start the relay in text mode")

	viper.BindPFlag("http.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("http.port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag(
		"snapshot.path",
		rootCmd.PersistentFlags().Lookup("snapshot-path"),
	)
	viper.BindPFlag("admin.key", rootCmd.PersistentFlags().Lookup("admin-key"))
	viper.BindPFlag(
		"speech.openai_api_key",
		rootCmd.PersistentFlags().Lookup("openai-api-key"),
	)
	viper.BindPFlag(
		"speech.google_api_key",
		rootCmd.PersistentFlags().Lookup("google-api-key"),
	)
	viper.BindPFlag("relay.text_mode", rootCmd.PersistentFlags().Lookup("text-mode"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("polycast")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "polycast",
	Short: "Polycast relays live speech and text to classroom rooms",
	Long:  `Polycast is a room relay that fans out transcribed and translated host speech to students over WebSockets.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return application.Stop(shutdownCtx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Fatal(err)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
