// Package stream holds the transcription providers and the live
// transcription WebSocket.
package stream

import (
	"context"
	"fmt"
	"io"
)

// Segment is the result of transcribing one piece of audio.
type Segment struct {
	Text        string
	Language    string
	DurationSec float64
	Confidence  float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, mimeType string) (Segment, error)
	// Partial returns the interim text for the n-th live audio frame.
	Partial(ctx context.Context, frame []byte, n int) (string, error)
}

// Observation is one structured fact found in a transcript.
type Observation struct {
	Category   string
	Label      string
	Value      string
	Unit       string
	Confidence float64
}

type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]Observation, error)
}

// Placeholder stands in for a speech and extraction provider. It returns
// fixed data so the rest of the survey workflow can run end to end.
type Placeholder struct{}

const placeholderTranscript = "Placeholder transcript: no speech provider is configured."

func (Placeholder) Transcribe(_ context.Context, audio io.Reader, _ string) (Segment, error) {
	if _, err := io.Copy(io.Discard, audio); err != nil {
		return Segment{}, err
	}
	return Segment{Text: placeholderTranscript, Language: "en"}, nil
}

func (Placeholder) Partial(_ context.Context, frame []byte, n int) (string, error) {
	return fmt.Sprintf("[partial %d: %d bytes received]", n, len(frame)), nil
}

func (Placeholder) Extract(_ context.Context, _ string) ([]Observation, error) {
	return []Observation{
		{Category: "boiler", Label: "Boiler type", Value: "combi", Confidence: 0.5},
		{Category: "boiler", Label: "Boiler age", Value: "15", Unit: "years", Confidence: 0.5},
		{Category: "property", Label: "Radiator count", Value: "8", Confidence: 0.5},
	}, nil
}
