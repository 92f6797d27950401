package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
)

// GoogleConfig configures the Cloud Speech v2 recognizer.
type GoogleConfig struct {
	ProjectID       string
	CredentialsFile string // service account key; empty uses default credentials
	Location        string // defaults to "global"
}

func (c GoogleConfig) recognizer() string {
	loc := c.Location
	if loc == "" {
		loc = "global"
	}
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", c.ProjectID, loc)
}

type openStreamFunc func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// GoogleRecognizer runs one StreamingRecognize call per submission over a
// shared client.
type GoogleRecognizer struct {
	cfg    GoogleConfig
	client *speech.Client
	open   openStreamFunc
	logger *log.Logger
}

// NewGoogleRecognizer dials Cloud Speech. Close releases the client.
func NewGoogleRecognizer(ctx context.Context, cfg GoogleConfig, logger *log.Logger) (*GoogleRecognizer, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: GOOGLE_CLOUD_PROJECT is required", ErrConfig)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("stt: create speech client: %w", err)
	}
	g := newGoogleRecognizer(cfg, func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return client.StreamingRecognize(ctx)
	}, logger)
	g.client = client
	return g, nil
}

func newGoogleRecognizer(cfg GoogleConfig, open openStreamFunc, logger *log.Logger) *GoogleRecognizer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &GoogleRecognizer{cfg: cfg, open: open, logger: logger}
}

// Close releases the underlying client.
func (g *GoogleRecognizer) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GoogleRecognizer) configRequest(sc StreamConfig) (*speechpb.StreamingRecognizeRequest, error) {
	if !strings.EqualFold(sc.Encoding, "linear16") {
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrConfig, sc.Encoding)
	}
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: g.cfg.recognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(sc.SampleRate),
							AudioChannelCount: int32(sc.Channels),
						},
					},
					Model:         sc.Model,
					LanguageCodes: []string{sc.Language},
				},
			},
		},
	}, nil
}

// Recognize sends the config preamble and every audio message, half-closes
// the stream and emits results until the server ends it.
func (g *GoogleRecognizer) Recognize(ctx context.Context, msgs []StreamMessage, emit func(Result)) error {
	sc, payloads, err := splitRequest(msgs)
	if err != nil {
		return err
	}
	first, err := g.configRequest(sc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := g.open(ctx)
	if err != nil {
		return fmt.Errorf("google: open stream: %w", err)
	}

	if err := stream.Send(first); err != nil {
		return fmt.Errorf("google: send config: %w", err)
	}
	for _, p := range payloads {
		req := &speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: p},
		}
		if err := stream.Send(req); err != nil {
			// The real cause surfaces from Recv.
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("google: send audio: %w", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("google: close send: %w", err)
	}

	emitted := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			g.logger.Printf("google: stream finished, %d audio messages, %d results", len(payloads), emitted)
			return nil
		}
		if err != nil {
			return fmt.Errorf("google: recv: %w", err)
		}
		for _, res := range resp.GetResults() {
			alts := make([]Alternative, 0, len(res.GetAlternatives()))
			for _, a := range res.GetAlternatives() {
				alts = append(alts, Alternative{Text: a.GetTranscript(), Confidence: float64(a.GetConfidence())})
			}
			if r, ok := ResultFromAlternatives(alts, res.GetIsFinal()); ok {
				emitted++
				emit(r)
			}
		}
	}
}
