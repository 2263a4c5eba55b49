package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"cloud.google.com/go/texttospeech/apiv1"
	"google.golang.org/api/option"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"voicebridge/internal/voice/settings"
	"voicebridge/internal/voice/voiceerr"
)

const googleTokenURI = "https://oauth2.googleapis.com/token"

// GoogleFactory builds Google Cloud Speech-to-Text and Text-to-Speech clients
// from service account credentials.
type GoogleFactory struct{}

func (GoogleFactory) NewRecognizer(ctx context.Context, creds *settings.Credentials) (Recognizer, error) {
	opts, err := clientOptions(creds)
	if err != nil {
		return nil, err
	}
	client, err := gspeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleRecognizer{client: client}, nil
}

func (GoogleFactory) NewSynthesizer(ctx context.Context, creds *settings.Credentials) (Synthesizer, error) {
	opts, err := clientOptions(creds)
	if err != nil {
		return nil, err
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}
	return &GoogleSynthesizer{client: client}, nil
}

type serviceAccount struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	ProjectID   string `json:"project_id,omitempty"`
	TokenURI    string `json:"token_uri"`
}

// CredentialsJSON renders creds as a service account key file.
func CredentialsJSON(creds *settings.Credentials) ([]byte, error) {
	if !creds.Complete() {
		return nil, voiceerr.ErrNotConfigured
	}
	return json.Marshal(serviceAccount{
		Type:        "service_account",
		ClientEmail: creds.ClientIdentity,
		PrivateKey:  strings.ReplaceAll(creds.PrivateKeyMaterial, `\n`, "\n"),
		ProjectID:   creds.ProjectIdentifier,
		TokenURI:    googleTokenURI,
	})
}

func clientOptions(creds *settings.Credentials) ([]option.ClientOption, error) {
	raw, err := CredentialsJSON(creds)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithCredentialsJSON(raw)}, nil
}

// GoogleSynthesizer renders speech with Cloud Text-to-Speech.
type GoogleSynthesizer struct {
	client *texttospeech.Client
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	resp, err := g.client.SynthesizeSpeech(ctx, synthesisRequestPB(req))
	if err != nil {
		return nil, err
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, fmt.Errorf("empty audio content in synthesis response")
	}
	return resp.GetAudioContent(), nil
}

func (g *GoogleSynthesizer) ListVoices(ctx context.Context, languageCode string) ([]VoiceInfo, error) {
	resp, err := g.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: languageCode})
	if err != nil {
		return nil, err
	}
	voices := make([]VoiceInfo, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		voices = append(voices, VoiceInfo{
			Name:                   v.GetName(),
			LanguageCodes:          v.GetLanguageCodes(),
			Gender:                 genderName(v.GetSsmlGender()),
			NaturalSampleRateHertz: v.GetNaturalSampleRateHertz(),
		})
	}
	return voices, nil
}

func (g *GoogleSynthesizer) Close() error {
	return g.client.Close()
}

func synthesisRequestPB(req SynthesisRequest) *texttospeechpb.SynthesizeSpeechRequest {
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: req.Voice.LanguageCode,
			Name:         req.Voice.Name,
			SsmlGender:   genderPB(req.Voice.SSMLGender),
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: encodingPB(req.AudioConfig.AudioEncoding),
			SpeakingRate:  req.AudioConfig.SpeakingRate,
			Pitch:         req.AudioConfig.Pitch,
		},
	}
}

func genderPB(g settings.Gender) texttospeechpb.SsmlVoiceGender {
	switch g {
	case settings.GenderFemale:
		return texttospeechpb.SsmlVoiceGender_FEMALE
	case settings.GenderMale:
		return texttospeechpb.SsmlVoiceGender_MALE
	case settings.GenderNeutral:
		return texttospeechpb.SsmlVoiceGender_NEUTRAL
	default:
		return texttospeechpb.SsmlVoiceGender_SSML_VOICE_GENDER_UNSPECIFIED
	}
}

func genderName(g texttospeechpb.SsmlVoiceGender) string {
	switch g {
	case texttospeechpb.SsmlVoiceGender_FEMALE:
		return string(settings.GenderFemale)
	case texttospeechpb.SsmlVoiceGender_MALE:
		return string(settings.GenderMale)
	case texttospeechpb.SsmlVoiceGender_NEUTRAL:
		return string(settings.GenderNeutral)
	default:
		return ""
	}
}

func encodingPB(e settings.AudioEncoding) texttospeechpb.AudioEncoding {
	switch e.Normalize() {
	case settings.EncodingMP3:
		return texttospeechpb.AudioEncoding_MP3
	case settings.EncodingOggOpus:
		return texttospeechpb.AudioEncoding_OGG_OPUS
	default:
		return texttospeechpb.AudioEncoding_LINEAR16
	}
}

// GoogleRecognizer streams audio to Cloud Speech-to-Text.
type GoogleRecognizer struct {
	client *gspeech.Client
}

func (g *GoogleRecognizer) Open(ctx context.Context, cfg RecognitionConfig) (RecognitionStream, error) {
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open recognition stream: %w", err)
	}
	if err := stream.Send(streamingConfigPB(cfg)); err != nil {
		return nil, fmt.Errorf("failed to send recognition config: %w", err)
	}
	return &googleStream{stream: stream}, nil
}

func (g *GoogleRecognizer) Close() error {
	return g.client.Close()
}

func streamingConfigPB(cfg RecognitionConfig) *speechpb.StreamingRecognizeRequest {
	encoding := speechpb.RecognitionConfig_LINEAR16
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[cfg.Encoding]; ok {
		encoding = speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            cfg.SampleRateHertz,
					LanguageCode:               cfg.LanguageCode,
					EnableAutomaticPunctuation: cfg.EnablePunctuation,
				},
				InterimResults: cfg.InterimResults,
			},
		},
	}
}

// googleStream serializes Send and CloseSend; Recv runs on the reader goroutine.
type googleStream struct {
	mu     sync.Mutex
	closed bool
	stream speechpb.Speech_StreamingRecognizeClient
}

func (s *googleStream) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: p},
	})
}

func (s *googleStream) Recv() (Result, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return Result{}, err
		}
		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			return Result{}, fmt.Errorf("recognition error %d: %s", st.GetCode(), st.GetMessage())
		}
		results := resp.GetResults()
		if len(results) == 0 || len(results[0].GetAlternatives()) == 0 {
			continue
		}
		return Result{
			Text:    results[0].GetAlternatives()[0].GetTranscript(),
			IsFinal: results[0].GetIsFinal(),
		}, nil
	}
}

func (s *googleStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.CloseSend()
}
