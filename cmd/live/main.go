// Command live holds a spoken conversation with the Kolokwa assistant
// through the local microphone and speakers (sox).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/config"
	"github.com/room4-2/kolokwa/gemini"
	"github.com/room4-2/kolokwa/live"
	"github.com/room4-2/kolokwa/logging"
	"github.com/room4-2/kolokwa/style"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		styleName string
		file      string
		recBin    string
		playBin   string
		voice     string
		logLevel  string
		readSize  int
	)

	cmd := &cobra.Command{
		Use:          "live",
		Short:        "Talk to the Kolokwa assistant out loud",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.LogLevel
			}
			logging.Setup(logLevel)

			s, err := style.Parse(styleName)
			if err != nil {
				return err
			}
			if voice == "" {
				voice = cfg.VoiceName
			}

			var mic audio.Microphone = &audio.SoxMicrophone{Binary: recBin}
			if file != "" {
				mic = &fileMicrophone{path: file, pace: true}
			}

			out, err := audio.OpenSoxOutput(playBin, audio.OutputSampleRate)
			if err != nil {
				return errors.Wrap(err, "open speaker (is sox installed?)")
			}
			defer out.Close()

			dialer := gemini.NewLiveDialer(gemini.Options{APIKey: cfg.GeminiAPIKey}, cfg.LiveModel, voice)
			ctl := live.New(dialer, mic, out, live.WithCapture(audio.NewCapture(audio.WithReadSize(readSize))))

			w := cmd.OutOrStdout()
			hooks := live.Hooks{
				OnOpen: func() {
					fmt.Fprintf(w, "🟢 Live with %s. Speak now, Ctrl-C to stop.\n", s.Label())
				},
				OnText: func(text string) {
					fmt.Fprintf(w, "📝 %s\n", text)
				},
				OnError: func(err error) {
					fmt.Fprintf(w, "❌ Live mode failed: %v\n", err)
				},
				OnClose: func() {
					fmt.Fprintln(w, "🔴 Live session closed.")
				},
			}

			if err := ctl.Start(cmd.Context(), s, hooks); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			select {
			case <-sig:
				log.Info().Msg("👋 Stopping live session")
				return ctl.Stop()
			case <-ctl.Done():
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&styleName, "style", "s", string(style.Default), "conversation style (classic, street, executive, counselor)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "stream a 16 kHz PCM or WAV file instead of the microphone")
	cmd.Flags().StringVar(&recBin, "rec", "rec", "sox recorder binary")
	cmd.Flags().StringVar(&playBin, "play", "play", "sox player binary")
	cmd.Flags().StringVar(&voice, "voice", "", "prebuilt voice name (defaults to VOICE_NAME or Zephyr)")
	cmd.Flags().IntVar(&readSize, "read-size", 1024, "samples requested per microphone read")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (defaults to LOG_LEVEL)")
	return cmd
}
