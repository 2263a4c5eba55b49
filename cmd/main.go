package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voicebridge/internal/cli/scheme/colours"
	"voicebridge/internal/config"
	"voicebridge/internal/console"
)

var app *console.App

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "voicebridge",
		Short: "🎙️ Voice input and spoken output for coding assistants",
		Long: `
┌──────────────────────────────────────────┐
│  🎙️  voicebridge                          │
│  Speak to your assistant, hear it reply   │
└──────────────────────────────────────────┘

voicebridge records your microphone into live transcripts and reads
assistant text aloud through a queued, cancellable player.
		`,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Close()
			}
		},
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			app.ShowWelcome()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.voicebridge/voicebridge.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "Speech backend: google or mock")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	_ = viper.BindPFlag("speech.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "🎤 Record and print live transcripts",
		Long:  "Capture the microphone and stream it to speech recognition until interrupted",
		Run:   func(cmd *cobra.Command, args []string) { app.Listen(cmd, args) },
	}
	console.AddListenFlags(listenCmd)

	speakCmd := &cobra.Command{
		Use:   "speak [text...]",
		Short: "🔊 Read text aloud",
		Long:  "Synthesize text and play it. Use - to read the text from stdin",
		Args:  cobra.MinimumNArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { app.Speak(cmd, args) },
	}
	console.AddSpeakFlags(speakCmd)

	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "⚙️ Show text-to-speech settings",
		Long:  "Display the voice, audio and credential settings in effect",
		Run:   func(cmd *cobra.Command, args []string) { app.ShowSettings(cmd, args) },
	}

	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "🗣️ List synthesis voices",
		Long:  "List the voices offered by the speech backend, cached on disk",
		Run:   func(cmd *cobra.Command, args []string) { app.ListVoices(cmd, args) },
	}
	console.AddVoicesFlags(voicesCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "🌐 Run the HTTP and event stream API",
		Long:  "Expose recording, speech and settings over HTTP with a websocket event stream",
		Run:   func(cmd *cobra.Command, args []string) { app.Serve(cmd, args) },
	}
	console.AddServeFlags(serveCmd)

	rootCmd.AddCommand(listenCmd, speakCmd, settingsCmd, voicesCmd, serveCmd)

	// First signal winds the running command down, a second one exits.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		if app != nil {
			app.Cancel()
		}
		<-sigChan
		fmt.Println("\n" + colours.Warning.Sprint("👋 Goodbye!"))
		os.Exit(1)
	}()

	if err := rootCmd.Execute(); err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if file, _ := cmd.Flags().GetString("config"); file != "" {
		viper.SetConfigFile(file)
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	app, err = console.NewApp(cfg)
	return err
}

func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Configuration management with Viper
func init() {
	viper.SetConfigName("voicebridge")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.voicebridge")
	viper.AddConfigPath(".")

	config.SetDefaults()
	config.BindEnv()
}
