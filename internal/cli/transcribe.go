package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentguard/internal/logger"
	"github.com/gzhole/agentguard/internal/redact"
	"github.com/gzhole/agentguard/internal/transcribe"
)

var transcribeProvider string

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe a voice message with the configured provider",
	Long: `Transcribe an audio file using the provider configured under
transcription.provider (groq, openai or local).

  agentguard transcribe voice.ogg
  agentguard transcribe --provider local voice.ogg`,
	Args: cobra.ExactArgs(1),
	RunE: transcribeCommand,
}

func init() {
	transcribeCmd.Flags().StringVar(&transcribeProvider, "provider", "", "Override the configured provider")
	rootCmd.AddCommand(transcribeCmd)
}

func transcribeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if transcribeProvider != "" {
		cfg.Transcription.Provider = transcribeProvider
	}
	log := logger.Setup(cmd.ErrOrStderr(), cfg.Log.Level)

	t, err := transcribe.FromConfig(cfg, log)
	if err != nil {
		return err
	}
	text, err := t.Transcribe(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), redact.SanitizeResult(text, cfg.Sanitize.MaxResultLength))
	return nil
}
