package console

import "github.com/spf13/cobra"

func AddListenFlags(cmd *cobra.Command) {
	cmd.Flags().DurationP("duration", "d", 0, "Stop recording after this long (0 records until interrupted)")
}

func AddSpeakFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("voice", "v", "", "Voice name. See `voicebridge voices` for options")
	cmd.Flags().StringP("language", "l", "", "Voice language code, e.g. en-GB")
	cmd.Flags().StringP("gender", "g", "", "SSML gender: NEUTRAL, FEMALE or MALE")
	cmd.Flags().StringP("encoding", "e", "", "Audio encoding: MP3, LINEAR16 or OGG_OPUS")
	cmd.Flags().Float64P("rate", "r", 1.0, "Speaking rate (0.25 to 4.0)")
	cmd.Flags().Float64P("pitch", "p", 0, "Pitch in semitones (-20 to 20)")
}

func AddVoicesFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("language", "l", "", "Only list voices for this language code")
	cmd.Flags().Bool("refresh", false, "Clear the voice cache and fetch fresh lists")
}

func AddServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("addr", "a", "", "Listen address (defaults to http.addr)")
}

