// Package service owns the live clustering engine and everything around it:
// persistence, ingest validation, retraining and event publication.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/threatcluster/pkg/config"
	"github.com/lucid-vigil/threatcluster/pkg/dataset"
	svcerrors "github.com/lucid-vigil/threatcluster/pkg/errors"
	"github.com/lucid-vigil/threatcluster/pkg/events"
	"github.com/lucid-vigil/threatcluster/pkg/fcm"
	"github.com/lucid-vigil/threatcluster/pkg/features"
	"github.com/lucid-vigil/threatcluster/pkg/metrics"
	"github.com/lucid-vigil/threatcluster/pkg/store"
)

const component = "classifier"

// DefaultModelName is the store key used when none is configured.
const DefaultModelName = "fuzzy_clustering"

const defaultEventLogSize = 50000

// Training kinds, used as the source label of the training metrics.
const (
	KindDataset = "dataset"
	KindEvents  = "events"
	KindRetrain = "retrain"
)

// Reasons a retrain is skipped.
const (
	SkipInsufficientNewEvents = "insufficient_new_events"
	SkipTooFewEvents          = "too_few_events"
)

// Options wires a Classifier. Store and a valid Engine configuration are
// required; everything else is optional.
type Options struct {
	Engine    fcm.Config
	ModelName string
	Dataset   config.DatasetConfig
	Retrain   config.RetrainConfig
	Store     store.Store
	Bus       *events.EventBus
	Validator *events.EventValidator
	Metrics   *metrics.Metrics
	Errors    *svcerrors.ErrorHandler
	Logger    zerolog.Logger
	// PublishThreshold is the primary confidence at which a classification
	// is published as a threat_classified event.
	PublishThreshold float64
}

// Status describes the model currently served.
type Status struct {
	Trained        bool       `json:"is_trained"`
	ModelName      string     `json:"model_name"`
	Source         string     `json:"data_source,omitempty"`
	RunID          string     `json:"run_id,omitempty"`
	Samples        int        `json:"n_samples"`
	TrainedAt      *time.Time `json:"trained_at,omitempty"`
	Clusters       int        `json:"n_clusters"`
	Fuzziness      float64    `json:"fuzziness"`
	Labels         []string   `json:"cluster_labels"`
	Features       []string   `json:"features"`
	Schema         string     `json:"schema"`
	EventsSeen     int64      `json:"events_seen"`
	EventsBuffered int        `json:"events_buffered"`
}

// RetrainResult reports what a Retrain call did.
type RetrainResult struct {
	Skipped   bool               `json:"skipped"`
	Reason    string             `json:"reason,omitempty"`
	NewEvents int64              `json:"new_events"`
	Stats     *fcm.TrainingStats `json:"stats,omitempty"`
}

// RejectedEventError is returned when an event in a batch fails ingest
// validation. Nothing in the batch is classified.
type RejectedEventError struct {
	Index int
	Err   error
}

func (e *RejectedEventError) Error() string {
	return fmt.Sprintf("event %d: %v", e.Index, e.Err)
}

func (e *RejectedEventError) Unwrap() error { return e.Err }

// Classifier serves one engine. Reads (Classify, Summary, Evaluate, Status)
// run concurrently; training, retraining and reloads are serialized.
type Classifier struct {
	modelName        string
	dataset          config.DatasetConfig
	retrain          config.RetrainConfig
	publishThreshold float64

	store     store.Store
	bus       *events.EventBus
	validator *events.EventValidator
	metrics   *metrics.Metrics
	errors    *svcerrors.ErrorHandler
	logger    zerolog.Logger

	trainMu sync.Mutex

	mu     sync.RWMutex
	engine *fcm.Engine
	source string
	runID  string

	events *eventLog
}

// New builds an untrained classifier. The engine schema defaults to the
// current feature fingerprint.
func New(opts Options) (*Classifier, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("classifier: a model store is required")
	}
	if opts.ModelName == "" {
		opts.ModelName = DefaultModelName
	}
	if opts.Engine.Schema == "" {
		opts.Engine.Schema = features.Fingerprint()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	logger := opts.Logger.With().Str("component", component).Logger()
	if opts.Errors == nil {
		opts.Errors = svcerrors.NewErrorHandler(logger, nil)
	}

	engine, err := fcm.New(opts.Engine, opts.Logger)
	if err != nil {
		return nil, err
	}

	size := opts.Retrain.MaxTrainingSamples
	if size <= 0 {
		size = defaultEventLogSize
	}

	return &Classifier{
		modelName:        opts.ModelName,
		dataset:          opts.Dataset,
		retrain:          opts.Retrain,
		publishThreshold: opts.PublishThreshold,
		store:            opts.Store,
		bus:              opts.Bus,
		validator:        opts.Validator,
		metrics:          opts.Metrics,
		errors:           opts.Errors,
		logger:           logger,
		engine:           engine,
		events:           newEventLog(size),
	}, nil
}

// ModelName is the store key of the served model.
func (c *Classifier) ModelName() string { return c.modelName }

// Labels returns the cluster labels in index order.
func (c *Classifier) Labels() []string { return c.engine.Labels() }

// Trained reports whether a model is being served.
func (c *Classifier) Trained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Trained()
}

// Bootstrap restores the persisted model, or trains on the configured
// dataset when there is none or it no longer matches the feature layout.
// It is meant for the long-running server; one-shot callers use Load.
func (c *Classifier) Bootstrap(ctx context.Context) error {
	rec, err := c.store.Latest(ctx, c.modelName)
	switch {
	case err == nil:
		c.events.resume(rec.EventsSeen)
	case errors.Is(err, store.ErrNotFound):
		rec = nil
	default:
		rec = nil
		c.handleError(ctx, svcerrors.NewStorageError(component, "read history", err))
	}

	m, err := c.store.Load(ctx, c.modelName)
	switch {
	case err == nil:
		rerr := c.restore(m, rec)
		if rerr == nil {
			c.logger.Info().
				Str("model", c.modelName).
				Int("samples", m.Samples).
				Time("trained_at", m.TrainedAt).
				Msg("Loaded persisted model")
			return nil
		}
		c.logger.Warn().Err(rerr).Str("model", c.modelName).Msg("Persisted model is incompatible, retraining")
	case errors.Is(err, store.ErrNotFound):
		c.logger.Info().Str("model", c.modelName).Msg("No persisted model, training on dataset")
	default:
		c.handleError(ctx, svcerrors.NewStorageError(component, "load", err))
	}

	_, err = c.TrainOnDataset(ctx)
	return err
}

// Load restores the persisted model and never trains. Without a saved model
// it returns an error wrapping fcm.ErrNotTrained.
func (c *Classifier) Load(ctx context.Context) error {
	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	m, err := c.store.Load(ctx, c.modelName)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no saved model %q, run the train command first: %w", c.modelName, fcm.ErrNotTrained)
	}
	if err != nil {
		return fmt.Errorf("load model %s: %w", c.modelName, err)
	}

	rec, err := c.store.Latest(ctx, c.modelName)
	if err != nil {
		rec = nil
	} else {
		c.events.resume(rec.EventsSeen)
	}
	return c.restore(m, rec)
}

func (c *Classifier) restore(m *fcm.Model, rec *store.TrainingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.engine.Restore(m); err != nil {
		return err
	}
	c.source, c.runID = "store", ""
	if rec != nil {
		c.source, c.runID = rec.Source, rec.RunID
	}
	c.metrics.ModelTrained.Set(1)
	return nil
}

// Train fits a new model on evs and persists it. Events are validated the
// same way Classify validates them.
func (c *Classifier) Train(ctx context.Context, evs []features.Event) (*fcm.TrainingStats, error) {
	if err := c.validate(evs); err != nil {
		return nil, err
	}
	c.trainMu.Lock()
	defer c.trainMu.Unlock()
	return c.train(ctx, evs, KindEvents, fmt.Sprintf("%d submitted events", len(evs)), false)
}

// TrainOnDataset fits a new model on the configured training set, falling
// back to synthetic records when the file is missing.
func (c *Classifier) TrainOnDataset(ctx context.Context) (*fcm.TrainingStats, error) {
	recs, source, err := dataset.Load(c.dataset.TrainPath, c.dataset.SyntheticSamples, c.dataset.Seed)
	if err != nil {
		c.handleError(ctx, svcerrors.NewTrainingError(component, "load dataset", err))
		return nil, err
	}
	if !c.dataset.IncludeNormal {
		recs = recs.WithoutNormal()
	}

	c.trainMu.Lock()
	defer c.trainMu.Unlock()
	return c.train(ctx, recs.Events(), KindDataset, source, false)
}

// train must be called with trainMu held. When persisting fails the new
// model is still served and the stats are returned with the error.
func (c *Classifier) train(ctx context.Context, evs []features.Event, kind, source string, warm bool) (*fcm.TrainingStats, error) {
	X := features.Matrix(evs)
	start := time.Now()

	c.mu.Lock()
	var (
		stats *fcm.TrainingStats
		model *fcm.Model
		err   error
	)
	if warm && c.engine.Trained() {
		stats, err = c.engine.Refine(X)
	} else {
		stats, err = c.engine.Fit(X)
	}
	if err == nil {
		model, err = c.engine.Snapshot()
	}
	c.mu.Unlock()

	if err != nil {
		c.metrics.TrainingRuns.WithLabelValues(kind, "failure").Inc()
		c.publish(ctx, events.EventTrainingFailed, "high",
			fmt.Sprintf("Training on %s failed", source),
			map[string]interface{}{"source": source, "error": err.Error()})
		return nil, err
	}
	c.observe(kind, stats, time.Since(start))
	c.syncEventsSeen(ctx)

	rec := store.TrainingRecord{
		RunID:      uuid.NewString(),
		Source:     source,
		Samples:    stats.Samples,
		EventsSeen: c.events.seen(),
		Iterations: stats.Iterations,
		Converged:  stats.Converged,
		Schema:     model.Schema,
		SavedAt:    time.Now().UTC(),
	}
	c.mu.Lock()
	c.source, c.runID = source, rec.RunID
	c.mu.Unlock()

	if err := c.store.Save(ctx, c.modelName, model, rec); err != nil {
		c.handleError(ctx, svcerrors.NewStorageError(component, "save", err))
		return stats, fmt.Errorf("persist model %s: %w", c.modelName, err)
	}

	c.publish(ctx, events.EventModelTrained, "info",
		fmt.Sprintf("Model trained on %s", source),
		map[string]interface{}{
			"run_id":     rec.RunID,
			"source":     source,
			"kind":       kind,
			"n_samples":  stats.Samples,
			"iterations": stats.Iterations,
			"converged":  stats.Converged,
		})
	return stats, nil
}

// syncEventsSeen raises the ingest counter to the one in the latest saved
// record. Records written by another process (the train command, a second
// server) then never move the retrain baseline backwards.
func (c *Classifier) syncEventsSeen(ctx context.Context) {
	rec, err := c.store.Latest(ctx, c.modelName)
	switch {
	case err == nil:
		c.events.resume(rec.EventsSeen)
	case !errors.Is(err, store.ErrNotFound):
		c.logger.Warn().Err(err).Msg("Could not read training history, keeping local event count")
	}
}

func (c *Classifier) observe(kind string, stats *fcm.TrainingStats, elapsed time.Duration) {
	c.metrics.TrainingRuns.WithLabelValues(kind, "success").Inc()
	c.metrics.TrainingDuration.Observe(elapsed.Seconds())
	c.metrics.TrainingIterations.Set(float64(stats.Iterations))
	c.metrics.TrainingSamples.Set(float64(stats.Samples))
	c.metrics.DegenerateDistances.Add(float64(stats.DegenerateDistances))
	c.metrics.ModelTrained.Set(1)
}

// Classify validates evs, classifies them against the served model and
// retains them for retraining. Validation sanitizes text fields of evs in
// place. It never trains; an untrained classifier returns fcm.ErrNotTrained.
func (c *Classifier) Classify(ctx context.Context, evs []features.Event) ([]fcm.Classification, error) {
	if err := c.validate(evs); err != nil {
		return nil, err
	}
	c.mu.RLock()
	results, err := c.engine.Predict(features.Matrix(evs))
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	c.record(ctx, evs, results)
	return results, nil
}

// ClassifyAndFit trains a new model on evs and classifies the same events.
func (c *Classifier) ClassifyAndFit(ctx context.Context, evs []features.Event) ([]fcm.Classification, *fcm.TrainingStats, error) {
	if err := c.validate(evs); err != nil {
		return nil, nil, err
	}
	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	stats, err := c.train(ctx, evs, KindEvents, fmt.Sprintf("%d submitted events", len(evs)), false)
	if err != nil {
		return nil, stats, err
	}
	c.mu.RLock()
	results, err := c.engine.Predict(features.Matrix(evs))
	c.mu.RUnlock()
	if err != nil {
		return nil, stats, err
	}
	c.record(ctx, evs, results)
	return results, stats, nil
}

// Summary classifies evs and aggregates the results.
func (c *Classifier) Summary(ctx context.Context, evs []features.Event) (fcm.Summary, error) {
	results, err := c.Classify(ctx, evs)
	if err != nil {
		return fcm.Summary{}, err
	}
	return fcm.Summarize(results, c.Labels()), nil
}

// Evaluate scores the served model against the configured test set.
func (c *Classifier) Evaluate() (*fcm.EvaluationReport, error) {
	recs, source, err := dataset.Load(c.dataset.TestPath, c.dataset.SyntheticTest, c.dataset.Seed+1)
	if err != nil {
		return nil, err
	}
	if !c.dataset.IncludeNormal {
		recs = recs.WithoutNormal()
	}
	c.logger.Info().Str("source", source).Int("records", len(recs)).Msg("Evaluating model")
	return c.EvaluateRecords(recs)
}

// EvaluateRecords scores the served model against labelled records.
func (c *Classifier) EvaluateRecords(recs dataset.Records) (*fcm.EvaluationReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Evaluate(recs.Matrix(), recs.Labels())
}

// Retrain refits the model on the retained events once at least
// MinNewEvents were classified since the last saved training run. With
// WarmStart it continues from the current centers.
func (c *Classifier) Retrain(ctx context.Context) (*RetrainResult, error) {
	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	var last int64
	rec, err := c.store.Latest(ctx, c.modelName)
	switch {
	case err == nil:
		last = rec.EventsSeen
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("read training history: %w", err)
	}

	res := &RetrainResult{NewEvents: c.events.seen() - last}
	if res.NewEvents < int64(c.retrain.MinNewEvents) {
		return c.skip(ctx, res, SkipInsufficientNewEvents), nil
	}
	evs := c.events.snapshot()
	if len(evs) < c.engine.Config().Clusters {
		return c.skip(ctx, res, SkipTooFewEvents), nil
	}

	c.logger.Info().
		Int64("new_events", res.NewEvents).
		Int("samples", len(evs)).
		Bool("warm_start", c.retrain.WarmStart).
		Msg("Retraining on ingested events")
	stats, err := c.train(ctx, evs, KindRetrain, fmt.Sprintf("%d ingested events", len(evs)), c.retrain.WarmStart)
	if err != nil {
		return nil, err
	}
	res.Stats = stats
	return res, nil
}

func (c *Classifier) skip(ctx context.Context, res *RetrainResult, reason string) *RetrainResult {
	res.Skipped = true
	res.Reason = reason
	c.metrics.RetrainSkipped.WithLabelValues(reason).Inc()
	c.logger.Info().Str("reason", reason).Int64("new_events", res.NewEvents).Msg("Retrain skipped")
	c.publish(ctx, events.EventRetrainSkipped, "info", "Retrain skipped: "+reason,
		map[string]interface{}{"reason": reason, "new_events": res.NewEvents})
	return res
}

// Reload replaces the served model with the one in the store. A stored
// model identical to the served one is left alone.
func (c *Classifier) Reload(ctx context.Context) error {
	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	m, err := c.store.Load(ctx, c.modelName)
	if err != nil {
		c.metrics.ModelReloads.WithLabelValues("failure").Inc()
		return fmt.Errorf("load model %s: %w", c.modelName, err)
	}

	c.mu.RLock()
	current, _ := c.engine.Snapshot()
	c.mu.RUnlock()
	if current != nil && current.TrainedAt.Equal(m.TrainedAt) && current.Samples == m.Samples {
		c.metrics.ModelReloads.WithLabelValues("unchanged").Inc()
		return nil
	}

	rec, err := c.store.Latest(ctx, c.modelName)
	if err != nil {
		rec = nil
	} else {
		c.events.resume(rec.EventsSeen)
	}
	if err := c.restore(m, rec); err != nil {
		c.metrics.ModelReloads.WithLabelValues("failure").Inc()
		return err
	}
	c.metrics.ModelReloads.WithLabelValues("success").Inc()
	c.logger.Info().Str("model", c.modelName).Int("samples", m.Samples).Msg("Model reloaded from store")
	c.publish(ctx, events.EventModelReloaded, "info", "Model reloaded from store",
		map[string]interface{}{"n_samples": m.Samples, "trained_at": m.TrainedAt})
	return nil
}

// OnModelChanged is a store.Watcher callback.
func (c *Classifier) OnModelChanged(name string) {
	if name != c.modelName {
		return
	}
	ctx := context.Background()
	if err := c.Reload(ctx); err != nil {
		c.handleError(ctx, svcerrors.NewStorageError(component, "reload", err))
	}
}

// Status describes the served model.
func (c *Classifier) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg := c.engine.Config()
	st := Status{
		Trained:        c.engine.Trained(),
		ModelName:      c.modelName,
		Source:         c.source,
		RunID:          c.runID,
		Clusters:       cfg.Clusters,
		Fuzziness:      cfg.Fuzziness,
		Labels:         cfg.Labels,
		Features:       features.Fields(),
		Schema:         cfg.Schema,
		EventsSeen:     c.events.seen(),
		EventsBuffered: c.events.len(),
	}
	if m, err := c.engine.Snapshot(); err == nil {
		st.Samples = m.Samples
		trainedAt := m.TrainedAt
		st.TrainedAt = &trainedAt
	}
	return st
}

// History returns the saved training runs of the served model, oldest first.
func (c *Classifier) History(ctx context.Context) ([]store.TrainingRecord, error) {
	return c.store.History(ctx, c.modelName)
}

func (c *Classifier) validate(evs []features.Event) error {
	if c.validator == nil {
		return nil
	}
	if err := c.validator.ValidateBatch(len(evs)); err != nil {
		c.metrics.EventsRejected.WithLabelValues("batch").Inc()
		return err
	}
	for i := range evs {
		if err := c.validator.ValidateEvent(&evs[i]); err != nil {
			reason := "invalid"
			if errors.Is(err, events.ErrRateLimited) {
				reason = "rate_limited"
			}
			c.metrics.EventsRejected.WithLabelValues(reason).Inc()
			return &RejectedEventError{Index: i, Err: err}
		}
	}
	return nil
}

func (c *Classifier) record(ctx context.Context, evs []features.Event, results []fcm.Classification) {
	c.events.add(evs)
	for i, r := range results {
		c.metrics.Classifications.WithLabelValues(r.PrimaryCategory).Inc()
		if c.bus == nil || r.PrimaryConfidence < c.publishThreshold {
			continue
		}
		data := map[string]interface{}{
			"event_id":   evs[i].ID,
			"source_ip":  evs[i].SourceIP,
			"category":   r.PrimaryCategory,
			"confidence": r.PrimaryConfidence,
		}
		if r.HasSecondary() {
			data["secondary_category"] = r.SecondaryCategory
		}
		c.publish(ctx, events.EventThreatClassified, severityFor(r.PrimaryConfidence),
			fmt.Sprintf("%s (%.1f%%)", r.PrimaryCategory, r.PrimaryConfidence), data)
	}
}

func (c *Classifier) publish(ctx context.Context, typ events.EventType, severity, description string, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	err := c.bus.Publish(ctx, events.ClusterEvent{
		Type:        typ,
		Source:      component,
		Severity:    severity,
		Description: description,
		Data:        data,
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("type", string(typ)).Msg("Cluster event dropped")
	}
}

func (c *Classifier) handleError(ctx context.Context, err *svcerrors.ServiceError) {
	_ = c.errors.HandleError(ctx, err)
}

func severityFor(confidence float64) string {
	switch {
	case confidence >= 85:
		return "high"
	case confidence >= 60:
		return "medium"
	default:
		return "low"
	}
}
