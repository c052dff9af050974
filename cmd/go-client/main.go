// main package for the narration client: it uploads text, asks the
// narration-service to narrate it over NATS and saves the resulting audio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagTextDesc    = "Text to narrate"
	flagFileDesc    = "File containing the text to narrate"
	flagOutputDesc  = "Output file path (.wav)"
	flagVoiceDesc   = "Voice to narrate with (empty lets emotion analysis choose)"
	flagConfigDesc  = "Path to a TOML configuration file (defaults to the central configurator)"
	flagTimeoutDesc = "How long to wait for the narration"
)

// Flag names.
const (
	flagText    = "text"
	flagFile    = "file"
	flagOutput  = "output"
	flagVoice   = "voice"
	flagConfig  = "config"
	flagTimeout = "timeout"
)

const (
	defaultOutputFile = "output.wav"
	defaultTimeout    = 5 * time.Minute
	logFileName       = "narration-client.log"
	filePerm          = 0o644
)

var (
	// ErrEitherTextOrFile indicates that no input was given.
	ErrEitherTextOrFile = errors.New("either --text or --file must be provided")
	// ErrCannotSpecifyBoth indicates that both inputs were given.
	ErrCannotSpecifyBoth = errors.New("cannot specify both --text and --file")
	// ErrEmptyAudioKey indicates a reply that names no audio object.
	ErrEmptyAudioKey = errors.New("reply carries no audio key")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text    string
	file    string
	output  string
	voice   string
	config  string
	timeout time.Duration
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateArguments(flags)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() { _ = clientLog.Close() }()

	cfg, err := loadConfig(flags.config, clientLog)
	if err != nil {
		return err
	}

	text, err := readInput(flags)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	audioData, err := narrate(ctx, natsConnection, store, cfg.NATS.TextProcessedSubject, text, flags.voice)
	if err != nil {
		clientLog.Error("Narration failed: %v", err)

		return err
	}

	err = os.WriteFile(flags.output, audioData, filePerm)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", flags.output, err)
	}

	clientLog.Info("Wrote %d bytes of audio to %s", len(audioData), flags.output)
	fmt.Printf("Generated: %s\n", flags.output)

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("go-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateArguments checks for required and conflicting arguments.
func validateArguments(flags appFlags) error {
	if flags.text == "" && flags.file == "" {
		return ErrEitherTextOrFile
	}

	if flags.text != "" && flags.file != "" {
		return ErrCannotSpecifyBoth
	}

	return nil
}

func loadConfig(path string, clientLog *logger.Logger) (*config.Config, error) {
	if path == "" {
		cfg, err := config.Load(clientLog)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}

		return cfg, nil
	}

	cfg, err := config.LoadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func readInput(flags appFlags) (string, error) {
	if flags.text != "" {
		return flags.text, nil
	}

	file, err := os.Open(filepath.Clean(flags.file))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", flags.file, err)
	}

	data, readErr := io.ReadAll(file)
	closeErr := file.Close()

	if readErr != nil {
		return "", fmt.Errorf("failed to read %s: %w", flags.file, readErr)
	}

	if closeErr != nil {
		return "", fmt.Errorf("failed to close %s: %w", flags.file, closeErr)
	}

	return string(data), nil
}

// narrate uploads text, requests narration on subject and downloads the
// audio named in the reply.
func narrate(
	ctx context.Context,
	natsConnection *nats.Conn,
	store core.ObjectStore,
	subject, text, voice string,
) ([]byte, error) {
	workflowID := uuid.NewString()
	textKey := workflowID + ".txt"

	err := store.Upload(ctx, textKey, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to upload text: %w", err)
	}

	defer func() { _ = store.Delete(context.WithoutCancel(ctx), textKey) }()

	requestData, err := json.Marshal(events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: workflowID,
			EventID:    uuid.NewString(),
		},
		TextKey:    textKey,
		PageNumber: 1,
		TotalPages: 1,
		Voice:      voice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request event: %w", err)
	}

	reply, err := natsConnection.RequestWithContext(ctx, subject, requestData)
	if err != nil {
		return nil, fmt.Errorf("failed to request narration: %w", err)
	}

	var replyEvent events.AudioChunkCreatedEvent

	err = json.Unmarshal(reply.Data, &replyEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply event: %w", err)
	}

	if replyEvent.AudioKey == "" {
		return nil, ErrEmptyAudioKey
	}

	audioData, err := store.Download(ctx, replyEvent.AudioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio %s: %w", replyEvent.AudioKey, err)
	}

	return audioData, nil
}
