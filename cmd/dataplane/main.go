// Command dataplane is a microphone-driven demo of the translation
// pipeline: it captures one local speaker, runs STT -> MT -> TTS for each
// configured target language, and plays the synthesized audio back.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/interpret-dataplane/pkg/audio"
	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
	mtProvider "github.com/lokutor-ai/interpret-dataplane/pkg/providers/mt"
	sttProvider "github.com/lokutor-ai/interpret-dataplane/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/interpret-dataplane/pkg/providers/tts"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, using system environment variables")
	}

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	if lokutorKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set")
	}

	sourceLang := dataplane.Language(envOr("SOURCE_LANGUAGE", "en"))
	targetLangs := splitLangs(envOr("TARGET_LANGUAGES", "es"))

	stt := selectSTT(envOr("STT_PROVIDER", "groq"), groqKey, openaiKey, deepgramKey, assemblyKey, lokutorKey)
	mtForTarget := selectMT(envOr("MT_PROVIDER", "groq"), groqKey, openaiKey, anthropicKey, googleKey)

	cfg := dataplane.DefaultConfig()
	cfg.SourceLanguage = sourceLang
	cfg.TargetLanguages = targetLangs
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if s, ok := stt.(interface{ SetSampleRate(int) }); ok {
		s.SetSampleRate(cfg.SampleRate)
	}

	logger := dataplane.NewSlogLogger(slog.Default())

	shutdownMetrics, err := dataplane.InitMeterProvider()
	if err != nil {
		log.Fatalf("init metrics: %v", err)
	}
	defer shutdownMetrics(context.Background())

	sink, err := dataplane.NewMetricsSink(nil, 512)
	if err != nil {
		log.Fatalf("init metrics sink: %v", err)
	}

	session := dataplane.NewSession(cfg, sourceLang, targetLangs)

	targets := make([]dataplane.TargetPipeline, 0, len(targetLangs))
	for _, lang := range targetLangs {
		tts := ttsProvider.NewLokutorTTS(lokutorKey)
		targets = append(targets, dataplane.TargetPipeline{
			Lang:     lang,
			MT:       mtForTarget,
			Glossary: nil,
			Engines: []dataplane.EngineEntry{
				{Provider: tts, EstimatedTTFT: 800 * time.Millisecond},
			},
			VoicePreset: cfg.VoicePresets[lang],
		})
	}

	vad := dataplane.NewRMSVAD(0.02)
	pipeline := dataplane.NewPipeline(cfg, session, stt, vad, targets, logger, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- pipeline.Run(ctx) }()

	playback := newPlaybackBuffer()
	echoGate := dataplane.NewEchoGate(cfg.SampleRate, 2.0, 0.55, 1200*time.Millisecond)

	go func() {
		for ev := range pipeline.Events() {
			switch ev.Type {
			case dataplane.EventCaptionUpdate:
				update := ev.Data.(dataplane.CaptionUpdate)
				fmt.Printf("\r\033[K[CAPTION] %s\n", update.Text)
			case dataplane.EventTranslation:
				tr := ev.Data.(dataplane.TranslationResult)
				fmt.Printf("\r\033[K[TRANSLATION] (%.2f) %s\n", tr.Confidence, tr.TranslatedText)
			case dataplane.EventAudioChunk:
				chunk := ev.Data.(dataplane.AudioChunk)
				playback.Append(chunk.Samples)
			case dataplane.EventStageError:
				fmt.Printf("\r\033[K[ERROR] %v\n", ev.Data)
			case dataplane.EventSessionClosed:
				fmt.Println("\r\033[K[SESSION CLOSED]")
			}
		}
	}()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			captured := audio.PCM16ToFloat32(pInput)
			if !echoGate.IsEcho(captured) {
				_ = pipeline.Push(captured, cfg.SampleRate)
			}
		}
		if pOutput != nil {
			played := playback.Fill(pOutput)
			echoGate.RecordPlayed(played)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Dataplane started: %s -> %v | STT=%s MT=%s TTS=lokutor\n",
		sourceLang, targetLangs, envOr("STT_PROVIDER", "groq"), envOr("MT_PROVIDER", "groq"))
	fmt.Println("Press Ctrl+C to exit")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		fmt.Println("\nShutting down...")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			fmt.Printf("pipeline exited: %v\n", err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitLangs(s string) []dataplane.Language {
	parts := strings.Split(s, ",")
	out := make([]dataplane.Language, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, dataplane.Language(p))
		}
	}
	return out
}

func selectSTT(name, groqKey, openaiKey, deepgramKey, assemblyKey, lokutorKey string) dataplane.STTProvider {
	switch name {
	case "lokutor":
		if lokutorKey == "" {
			log.Fatal("Error: LOKUTOR_API_KEY must be set for lokutor STT")
		}
		return sttProvider.NewLokutorStreamSTT(lokutorKey)
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
		}
		return sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "deepgram":
		if deepgramKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		if assemblyKey == "" {
			log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
		}
		return sttProvider.NewGroqSTT(groqKey, "")
	}
}

func selectMT(name, groqKey, openaiKey, anthropicKey, googleKey string) dataplane.MTProvider {
	switch name {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai MT")
		}
		return mtProvider.NewOpenAIMT(openaiKey, "")
	case "anthropic":
		if anthropicKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic MT")
		}
		return mtProvider.NewAnthropicMT(anthropicKey, "")
	case "google":
		if googleKey == "" {
			log.Fatal("Error: GOOGLE_API_KEY must be set for google MT")
		}
		return mtProvider.NewGoogleMT(googleKey, "")
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq MT")
		}
		return mtProvider.NewGroqMT(groqKey, "")
	}
}

// playbackBuffer queues synthesized float32 samples for the output device
// callback, converting to S16LE on drain.
type playbackBuffer struct {
	mu      sync.Mutex
	samples []float32
}

func newPlaybackBuffer() *playbackBuffer { return &playbackBuffer{} }

func (p *playbackBuffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	p.samples = append(p.samples, samples...)
	p.mu.Unlock()
}

// Fill drains queued samples into pOutput (zero-padding any shortfall) and
// returns the samples actually written, so the caller can feed them to an
// EchoGate as the device's true played-audio reference.
func (p *playbackBuffer) Fill(pOutput []byte) []float32 {
	need := len(pOutput) / 2
	p.mu.Lock()
	n := need
	if n > len(p.samples) {
		n = len(p.samples)
	}
	chunk := p.samples[:n]
	p.samples = p.samples[n:]
	p.mu.Unlock()

	for i, s := range chunk {
		v := int16(s * 32767)
		pOutput[i*2] = byte(v)
		pOutput[i*2+1] = byte(v >> 8)
	}
	for i := len(chunk) * 2; i < len(pOutput); i++ {
		pOutput[i] = 0
	}
	return chunk
}
