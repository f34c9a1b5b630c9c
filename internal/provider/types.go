// Package provider defines the adapter interfaces for external speech and
// translation services and the fallback chain that sequences them.
package provider

import "context"

// TranslateInput is a single text translation request.
type TranslateInput struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Translation is a provider's translation result.
type Translation struct {
	TranslatedText string
	Confidence     float64
}

// SynthesizeInput is a text-to-speech request.
type SynthesizeInput struct {
	Text         string
	Lang         string
	VoiceGender  string  // male, female, neutral
	SpeakingRate float64 // 0.5 - 2.0, 0 means default
}

// Audio is synthesized speech.
type Audio struct {
	Data     []byte
	MIMEType string
}

// RecognizeInput is a speech-to-text request.
type RecognizeInput struct {
	Audio      []byte
	Lang       string
	Encoding   string // MP3, M4A, WAV
	SampleRate int
}

// Transcript is a provider's recognition result.
type Transcript struct {
	Text       string
	Confidence float64
}

// Translator converts text between languages.
type Translator interface {
	Name() string
	Translate(ctx context.Context, in TranslateInput) (Translation, error)
}

// Synthesizer converts text to speech audio.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, in SynthesizeInput) (Audio, error)
}

// Recognizer transcribes audio to text.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, in RecognizeInput) (Transcript, error)
}
