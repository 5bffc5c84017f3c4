// main package for the plomtts server
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/api"
	"github.com/book-expert/plomtts/internal/audio"
	"github.com/book-expert/plomtts/internal/config"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/events"
	"github.com/book-expert/plomtts/internal/fishspeech"
	"github.com/book-expert/plomtts/internal/metrics"
	"github.com/book-expert/plomtts/internal/objectstore"
	"github.com/book-expert/plomtts/internal/voicestore"
	"github.com/book-expert/plomtts/internal/worker"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogFile = "plomtts-bootstrap.log"
	serviceLogFile   = "plomtts.log"
	flagConfig       = "config"
	flagConfigDesc   = "Path to a TOML configuration file (defaults to $PLOMTTS_CONFIG)"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "plomtts",
		Short:         api.ServiceDescription,
		Version:       api.ServiceVersion,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, flagConfig, "c", "", flagConfigDesc)

	return cmd
}

func run(ctx context.Context, configPath string) error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	cfg, err := config.Load(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	processor := audio.NewProcessor(audio.NewFFmpegCodec(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath), log)

	store, err := voicestore.New(cfg.Voices.Dir, processor, log, voicestore.Options{
		CacheListing: cfg.Voices.CacheListing,
	})
	if err != nil {
		return fmt.Errorf("failed to open voice store: %w", err)
	}

	defer func() {
		_ = store.Close()
	}()

	synth := fishspeech.New(fishspeech.Options{
		BaseURL:     cfg.FishSpeechURL(),
		APIName:     cfg.FishSpeech.APIName,
		Timeout:     time.Duration(cfg.FishSpeech.TimeoutSeconds) * time.Second,
		DownloadDir: cfg.FishSpeech.DownloadDir,
	}, store.Layout(), processor, log)

	publisher, closePublisher := connectEvents(cfg, log)
	defer closePublisher()

	var eventPublisher core.EventPublisher = events.NopPublisher{}
	if publisher != nil {
		eventPublisher = publisher
	}

	server := api.New(api.Deps{
		Store:       store,
		Synthesizer: synth,
		Audio:       processor,
		Events:      eventPublisher,
		Metrics:     metrics.NewCollector(metrics.DefaultNamespace),
		Log:         log,
	}, api.Options{
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxUploadBytes:  cfg.MaxUploadBytes(),
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
	})

	var speechWorker *worker.NatsWorker

	if publisher != nil && cfg.NATS.JobsSubject != "" {
		speechWorker, err = newSpeechWorker(ctx, cfg, publisher, synth, processor, log)
		if err != nil {
			return err
		}
	}

	logStartup(log, cfg, store)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Run(groupCtx, cfg.ListenAddress())
	})

	if speechWorker != nil {
		group.Go(func() error {
			return speechWorker.Run(groupCtx)
		})
	}

	return group.Wait()
}

// connectEvents returns the NATS publisher when configured, or nil. Connection
// failures are logged and events are disabled rather than failing startup.
func connectEvents(cfg *config.Config, log *logger.Logger) (*events.Publisher, func()) {
	if cfg.NATS.URL == "" {
		return nil, func() {}
	}

	publisher, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
	if err != nil {
		log.Warn("Event publishing disabled: %v", err)

		return nil, func() {}
	}

	return publisher, func() {
		closeErr := publisher.Close()
		if closeErr != nil {
			log.Warn("Failed to close NATS connection: %v", closeErr)
		}
	}
}

// newSpeechWorker binds the audio archive bucket and builds the NATS speech worker.
func newSpeechWorker(
	ctx context.Context,
	cfg *config.Config,
	publisher *events.Publisher,
	synth core.Synthesizer,
	processor *audio.Processor,
	log *logger.Logger,
) (*worker.NatsWorker, error) {
	js, err := jetstream.New(publisher.Conn())
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	archive, err := objectstore.New(ctx, js, cfg.NATS.AudioBucket)
	if err != nil {
		return nil, err
	}

	log.System("Archiving worker output in bucket %s", archive.Bucket())

	return worker.NewNatsWorker(publisher.Conn(), worker.Options{
		Subject:    cfg.NATS.JobsSubject,
		QueueGroup: cfg.NATS.QueueGroup,
	}, synth, archive, processor, publisher, log), nil
}

func logStartup(log *logger.Logger, cfg *config.Config, store *voicestore.Store) {
	voices := store.List()

	ids := make([]string, 0, len(voices))
	for _, voice := range voices {
		ids = append(ids, voice.ID)
	}

	log.System("%s %s starting", api.ServiceName, api.ServiceVersion)
	log.System("Voices directory: %s", cfg.Voices.Dir)
	log.System("Fish-speech backend: %s", cfg.FishSpeechURL())
	log.System("Found %d voices: %s", len(ids), strings.Join(ids, ", "))
}

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
