package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/threatcluster/pkg/api"
	"github.com/lucid-vigil/threatcluster/pkg/config"
	svcerrors "github.com/lucid-vigil/threatcluster/pkg/errors"
	"github.com/lucid-vigil/threatcluster/pkg/events"
	"github.com/lucid-vigil/threatcluster/pkg/fcm"
	"github.com/lucid-vigil/threatcluster/pkg/features"
	"github.com/lucid-vigil/threatcluster/pkg/jobs"
	"github.com/lucid-vigil/threatcluster/pkg/logger"
	"github.com/lucid-vigil/threatcluster/pkg/metrics"
	"github.com/lucid-vigil/threatcluster/pkg/scheduler"
	"github.com/lucid-vigil/threatcluster/pkg/service"
	"github.com/lucid-vigil/threatcluster/pkg/store"
)

const usage = `usage: threatcluster [command] [flags]

commands:
  serve      run the HTTP API and scheduled jobs (default)
  train      train on the dataset or on JSONL events and save the model
  evaluate   score the saved model against the test set
  classify   classify JSONL events from a file or stdin with the saved model
             (-fit trains on the same events first)
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "train":
		os.Exit(runTrain(args))
	case "evaluate":
		os.Exit(runEvaluate(args))
	case "classify":
		os.Exit(runClassify(args))
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

// app bundles the components shared by every command.
type app struct {
	store      store.Store
	metrics    *metrics.Metrics
	errors     *svcerrors.ErrorHandler
	classifier *service.Classifier
}

func newApp(cfg *config.Config, validator *events.EventValidator, bus *events.EventBus) (*app, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		store:   s,
		metrics: metrics.New(),
		errors:  svcerrors.NewErrorHandler(log.Logger, svcerrors.NewMemoryCollector()),
	}
	a.classifier, err = service.New(service.Options{
		Engine:           cfg.EngineConfig(features.Fingerprint()),
		ModelName:        cfg.Store.ModelName,
		Dataset:          cfg.Dataset,
		Retrain:          cfg.Retrain,
		Store:            s,
		Bus:              bus,
		Validator:        validator,
		Metrics:          a.metrics,
		Errors:           a.errors,
		Logger:           log.Logger,
		PublishThreshold: cfg.Ingest.AlertConfidence,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return a, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(cfg.Store.Redis, log.Logger)
	default:
		return store.NewFileStore(cfg.Store.Dir, log.Logger)
	}
}

// loadConfig loads the configuration and initializes logging. One-shot
// commands log to stderr.
func loadConfig(path string, toStderr bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if toStderr {
		logger.InitLoggerTo(os.Stderr, cfg.LogLevel)
	} else {
		logger.InitLogger(cfg.LogLevel)
	}
	return cfg, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	log.Info().Msg("threatcluster starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s, Store=%s", cfg.LogLevel, cfg.APIPort, cfg.Store.Backend)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	bus := events.NewEventBus(log.Logger, cfg.EventBus.BufferSize)
	recorder := events.NewRecorder(cfg.EventBus.HistoryWindow, cfg.EventBus.HistoryLimit)
	bus.Subscribe(recorder)
	bus.Subscribe(events.NewAlertHandler(cfg.Ingest.AlertConfidence, events.NewDeduplicator(cfg.Ingest.AlertDedupWindow), log.Logger))
	bus.Start(ctx)
	defer bus.Stop()

	a, err := newApp(cfg, events.NewEventValidator(cfg.Ingest.ValidatorConfig), bus)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize classifier")
		return 1
	}
	defer a.store.Close()

	if err := a.classifier.Bootstrap(ctx); err != nil {
		if !a.classifier.Trained() {
			log.Error().Err(err).Msg("No model available; serving untrained until /api/v1/train is called")
		} else {
			log.Warn().Err(err).Msg("Model trained but not persisted")
		}
	}

	if _, ok := a.store.(*store.FileStore); !ok && cfg.Store.Watch {
		_ = a.errors.HandleError(ctx, svcerrors.NewConfigError("model_watcher",
			fmt.Errorf("store.watch requires the file backend"),
			map[string]interface{}{"backend": cfg.Store.Backend}))
	}
	if fsStore, ok := a.store.(*store.FileStore); ok && cfg.Store.Watch {
		watcher := store.NewWatcher(fsStore.Dir(), a.classifier.OnModelChanged, log.Logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				_ = a.errors.HandleError(ctx, svcerrors.NewResourceError("model_watcher", fsStore.Dir(), err))
			}
		}()
	}

	// Initialize and start the scheduler
	sched := scheduler.NewScheduler(cfg)
	retrainJob := jobs.NewRetrainJob(a.classifier, a.errors, log.Logger)
	sampler := jobs.NewTrafficSampler(a.classifier, cfg.Sampler.Interfaces, cfg.Sampler.Classify, a.errors, log.Logger)
	sched.RegisterJob(retrainJob)
	sched.RegisterJob(sampler)
	sched.Start(ctx)

	handler := &api.Handler{
		Classifier: a.classifier,
		Metrics:    a.metrics,
		Bus:        bus,
		Recorder:   recorder,
		Errors:     a.errors,
		Jobs:       []api.JobReporter{retrainJob, sampler},
	}
	serverDone := make(chan error, 1)
	go func() {
		err := api.StartAPIServer(ctx, cfg.APIPort, api.NewRouter(handler))
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
		serverDone <- err
	}()

	<-ctx.Done()
	sched.Wait()
	// In-flight requests finish before the store and bus are closed.
	if err := <-serverDone; err != nil {
		return 1
	}
	log.Info().Msg("threatcluster stopped.")
	return 0
}

func runTrain(args []string) int {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	input := fs.String("events", "", "JSONL file of events to train on instead of the dataset (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, true)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	a, err := newApp(cfg, events.NewEventValidator(events.ValidatorConfig{}), nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize classifier")
		return 1
	}
	defer a.store.Close()

	ctx := context.Background()
	previous, err := store.LastSampleCount(ctx, a.store, cfg.Store.ModelName)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read training history")
	}

	var stats *fcm.TrainingStats
	if *input == "" {
		stats, err = a.classifier.TrainOnDataset(ctx)
	} else {
		var evs []features.Event
		evs, err = readEventsFrom(*input)
		if err == nil {
			stats, err = a.classifier.Train(ctx, evs)
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Training failed")
		return 1
	}
	log.Info().
		Int("samples", stats.Samples).
		Int("previous_samples", previous).
		Int("iterations", stats.Iterations).
		Bool("converged", stats.Converged).
		Msg("Model trained and saved")
	return writeJSON(os.Stdout, map[string]interface{}{"training": stats, "model": a.classifier.Status()})
}

func runEvaluate(args []string) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, true)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	a, err := newApp(cfg, nil, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize classifier")
		return 1
	}
	defer a.store.Close()

	if err := a.classifier.Load(context.Background()); err != nil {
		log.Error().Err(err).Msg("No model available")
		return 1
	}
	report, err := a.classifier.Evaluate()
	if err != nil {
		log.Error().Err(err).Msg("Evaluation failed")
		return 1
	}
	return writeJSON(os.Stdout, report)
}

func runClassify(args []string) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	input := fs.String("input", "-", "JSONL file of events (- for stdin)")
	summary := fs.Bool("summary", false, "print a summary instead of one classification per event")
	fit := fs.Bool("fit", false, "train a new model on the input events, save it, then classify them")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, true)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	a, err := newApp(cfg, events.NewEventValidator(events.ValidatorConfig{}), nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize classifier")
		return 1
	}
	defer a.store.Close()

	evs, err := readEventsFrom(*input)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read events")
		return 1
	}

	ctx := context.Background()
	var results []fcm.Classification
	if *fit {
		results, _, err = a.classifier.ClassifyAndFit(ctx, evs)
	} else {
		if err := a.classifier.Load(ctx); err != nil {
			log.Error().Err(err).Msg("No model available")
			return 1
		}
		results, err = a.classifier.Classify(ctx, evs)
	}
	if err != nil {
		log.Error().Err(err).Msg("Classification failed")
		return 1
	}

	if *summary {
		return writeJSON(os.Stdout, fcm.Summarize(results, a.classifier.Labels()))
	}
	enc := json.NewEncoder(os.Stdout)
	for i, r := range results {
		if err := enc.Encode(classifiedEvent{ID: evs[i].ID, Classification: r}); err != nil {
			log.Error().Err(err).Msg("Failed to write result")
			return 1
		}
	}
	return 0
}

type classifiedEvent struct {
	ID string `json:"id,omitempty"`
	fcm.Classification
}

func readEventsFrom(path string) ([]features.Event, error) {
	if path == "-" {
		return readEvents(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readEvents(f)
}

// readEvents decodes one JSON event per line. Blank lines are skipped.
func readEvents(r io.Reader) ([]features.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var evs []features.Event
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var ev features.Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		evs = append(evs, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return evs, nil
}

func writeJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write output")
		return 1
	}
	return 0
}
