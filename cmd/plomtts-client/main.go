// main package for the plomtts command-line client
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/book-expert/plomtts/internal/api"
	"github.com/book-expert/plomtts/internal/client"
	"github.com/book-expert/plomtts/internal/fileutil"
)

// Commands.
const (
	cmdList   = "list"
	cmdGet    = "get"
	cmdCreate = "create"
	cmdDelete = "delete"
	cmdTTS    = "tts"
	cmdHealth = "health"
)

// Flag names and descriptions.
const (
	flagServer         = "server"
	flagServerDesc     = "Base URL of the plomtts server"
	flagTimeout        = "timeout"
	flagTimeoutDesc    = "Request timeout"
	flagName           = "name"
	flagNameDesc       = "Voice id to create"
	flagAudio          = "audio"
	flagAudioDesc      = "Reference audio file (wav, mp3, flac, ogg)"
	flagTranscript     = "transcript"
	flagTranscriptDesc = "Transcript of the reference audio"
	flagText           = "text"
	flagTextDesc       = "Text to convert to speech"
	flagVoice          = "voice"
	flagVoiceDesc      = "Voice id to synthesize with"
	flagOutput         = "output"
	flagOutputDesc     = "Output file path (defaults to the server-suggested name)"
	flagSeed           = "seed"
	flagSeedDesc       = "Sampling seed"
	flagTemperature    = "temperature"
	flagTempDesc       = "Sampling temperature"
	flagBackend        = "backend"
	flagBackendDesc    = "Also check the synthesis backend"

	envServer     = "PLOMTTS_SERVER"
	defaultServer = "http://localhost:8420"
)

// Errors.
var (
	errNoCommand       = errors.New("a command is required: list, get, create, delete, tts, health")
	errUnknownCommand  = errors.New("unknown command")
	errVoiceIDRequired = errors.New("a voice id argument is required")
	errCreateArgs      = errors.New("--name and --audio are required")
	errTTSArgs         = errors.New("--text and --voice are required")
)

// Output messages.
const (
	msgVoiceLine   = "%-20s %-6s transcript=%-5t created=%s\n"
	msgTotal       = "%d voices\n"
	msgGenerated   = "Generated: %s (%s, %s)\n"
	msgServiceOK   = "plomtts service is healthy"
	msgBackendOK   = "fish-speech backend is healthy"
	msgUnknownDate = "-"
)

// globalFlags holds the flags shared by every command.
type globalFlags struct {
	server  string
	timeout time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// run parses args and dispatches to the selected command.
func run(args []string, stdout io.Writer) error {
	global, rest, err := parseGlobalFlags(args)
	if err != nil {
		return err
	}

	if len(rest) == 0 {
		return errNoCommand
	}

	ctx, cancel := context.WithTimeout(context.Background(), global.timeout)
	defer cancel()

	c := client.New(global.server, nil)

	command, commandArgs := rest[0], rest[1:]

	switch command {
	case cmdList:
		return listVoices(ctx, c, stdout)
	case cmdGet:
		return getVoice(ctx, c, commandArgs, stdout)
	case cmdCreate:
		return createVoice(ctx, c, commandArgs, stdout)
	case cmdDelete:
		return deleteVoice(ctx, c, commandArgs, stdout)
	case cmdTTS:
		return synthesize(ctx, c, commandArgs, stdout)
	case cmdHealth:
		return health(ctx, c, commandArgs, stdout)
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}

	var flags globalFlags

	fs := flag.NewFlagSet("plomtts-client", flag.ContinueOnError)
	fs.StringVar(&flags.server, flagServer, server, flagServerDesc)
	fs.DurationVar(&flags.timeout, flagTimeout, client.DefaultTimeout, flagTimeoutDesc)

	err := fs.Parse(args)
	if err != nil {
		return flags, nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, fs.Args(), nil
}

func listVoices(ctx context.Context, c *client.Client, stdout io.Writer) error {
	list, err := c.ListVoices(ctx)
	if err != nil {
		return err
	}

	for _, voice := range list.Voices {
		printVoice(stdout, voice)
	}

	fmt.Fprintf(stdout, msgTotal, list.Total)

	return nil
}

func getVoice(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errVoiceIDRequired
	}

	voice, err := c.GetVoice(ctx, args[0])
	if err != nil {
		return err
	}

	printVoice(stdout, voice)

	return nil
}

func createVoice(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	var name, audioPath, transcript string

	fs := flag.NewFlagSet(cmdCreate, flag.ContinueOnError)
	fs.StringVar(&name, flagName, "", flagNameDesc)
	fs.StringVar(&audioPath, flagAudio, "", flagAudioDesc)
	fs.StringVar(&transcript, flagTranscript, "", flagTranscriptDesc)

	err := fs.Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse %s flags: %w", cmdCreate, err)
	}

	if name == "" || audioPath == "" {
		return errCreateArgs
	}

	voice, err := c.CreateVoice(ctx, name, audioPath, transcript)
	if err != nil {
		return err
	}

	printVoice(stdout, voice)

	return nil
}

func deleteVoice(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errVoiceIDRequired
	}

	message, err := c.DeleteVoice(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, message)

	return nil
}

func synthesize(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	var (
		req         api.TTSRequest
		output      string
		seed        int
		temperature float64
	)

	fs := flag.NewFlagSet(cmdTTS, flag.ContinueOnError)
	fs.StringVar(&req.Text, flagText, "", flagTextDesc)
	fs.StringVar(&req.VoiceID, flagVoice, "", flagVoiceDesc)
	fs.StringVar(&output, flagOutput, "", flagOutputDesc)
	fs.IntVar(&seed, flagSeed, 0, flagSeedDesc)
	fs.Float64Var(&temperature, flagTemperature, 0, flagTempDesc)

	err := fs.Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse %s flags: %w", cmdTTS, err)
	}

	if strings.TrimSpace(req.Text) == "" || req.VoiceID == "" {
		return errTTSArgs
	}

	// Only flags given explicitly override the server defaults.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case flagSeed:
			req.Seed = &seed
		case flagTemperature:
			req.Temperature = &temperature
		}
	})

	if output == "" {
		output = fileutil.SanitizeFilename(api.DownloadFilename(req.VoiceID, req.Text))
	}

	speech, err := c.SynthesizeToFile(ctx, req, output)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, msgGenerated, output,
		fileutil.FormatDuration(speech.DurationSeconds), fileutil.FormatFileSize(speech.Bytes))

	return nil
}

func health(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	var backend bool

	fs := flag.NewFlagSet(cmdHealth, flag.ContinueOnError)
	fs.BoolVar(&backend, flagBackend, false, flagBackendDesc)

	err := fs.Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse %s flags: %w", cmdHealth, err)
	}

	err = c.Health(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, msgServiceOK)

	if !backend {
		return nil
	}

	err = c.BackendHealth(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, msgBackendOK)

	return nil
}

func printVoice(stdout io.Writer, voice api.VoiceResponse) {
	created := msgUnknownDate
	if voice.CreatedAt != nil {
		created = *voice.CreatedAt
	}

	fmt.Fprintf(stdout, msgVoiceLine, voice.ID, voice.AudioFormat, voice.HasTranscript, created)
}
