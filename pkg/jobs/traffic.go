package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/v3/net"

	svcerrors "github.com/lucid-vigil/threatcluster/pkg/errors"
	"github.com/lucid-vigil/threatcluster/pkg/fcm"
	"github.com/lucid-vigil/threatcluster/pkg/features"
)

// TrafficSamplerName is the name used in the jobs configuration.
const TrafficSamplerName = "traffic_sampler"

// ioCounters is replaced in tests.
var ioCounters = psnet.IOCountersWithContext

// EventClassifier is implemented by service.Classifier.
type EventClassifier interface {
	Classify(ctx context.Context, evs []features.Event) ([]fcm.Classification, error)
}

type counterSample struct {
	stat psnet.IOCountersStat
	at   time.Time
}

// TrafficSampler turns per-interface traffic counters into one event per
// interface and run, covering the traffic since the previous run, and
// optionally classifies them.
type TrafficSampler struct {
	*Base
	classifier EventClassifier
	interfaces map[string]bool
	classify   bool
	errors     *svcerrors.ErrorHandler

	previous map[string]counterSample
	now      func() time.Time
}

// NewTrafficSampler samples the named interfaces, or every interface except
// loopback when none are named. errs may be nil.
func NewTrafficSampler(classifier EventClassifier, interfaces []string, classify bool, errs *svcerrors.ErrorHandler, logger zerolog.Logger) *TrafficSampler {
	var filter map[string]bool
	if len(interfaces) > 0 {
		filter = make(map[string]bool, len(interfaces))
		for _, name := range interfaces {
			filter[name] = true
		}
	}
	return &TrafficSampler{
		Base:       NewBase(TrafficSamplerName, logger),
		classifier: classifier,
		interfaces: filter,
		classify:   classify,
		errors:     errs,
		previous:   make(map[string]counterSample),
		now:        time.Now,
	}
}

// Run samples the counters once. The first run only records a baseline.
func (s *TrafficSampler) Run(ctx context.Context) {
	evs, err := s.Sample(ctx)
	if err != nil {
		s.finish(err)
		s.report(ctx, svcerrors.NewResourceError(s.Name(), "network interface counters", err))
		return
	}
	s.UpdateMetrics("events_sampled", len(evs))
	if len(evs) == 0 || !s.classify || s.classifier == nil {
		s.finish(nil)
		return
	}

	results, err := s.classifier.Classify(ctx, evs)
	if errors.Is(err, fcm.ErrNotTrained) {
		s.logger.Debug().Msg("Model not trained yet, sampled traffic left unclassified")
		s.finish(nil)
		return
	}
	s.finish(err)
	if err != nil {
		s.report(ctx, &svcerrors.ServiceError{
			Component:   s.Name(),
			ErrorType:   "classification",
			Message:     "Classifying sampled traffic failed",
			Timestamp:   time.Now(),
			Severity:    svcerrors.SeverityMedium,
			Recoverable: true,
			Cause:       err,
		})
		return
	}

	for i, r := range results {
		s.logger.Info().
			Str("interface", evs[i].SourceIP).
			Float64("bytes_in", evs[i].BytesIn).
			Float64("bytes_out", evs[i].BytesOut).
			Str("category", r.PrimaryCategory).
			Float64("confidence", r.PrimaryConfidence).
			Msg("Interface traffic classified")
	}
}

// Sample reads the counters and returns one event per interface that has a
// previous sample. Interfaces whose counters went backwards are re-baselined.
func (s *TrafficSampler) Sample(ctx context.Context) ([]features.Event, error) {
	stats, err := ioCounters(ctx, true)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var evs []features.Event
	for _, st := range stats {
		if !s.wanted(st.Name) {
			continue
		}
		prev, ok := s.previous[st.Name]
		s.previous[st.Name] = counterSample{stat: st, at: now}
		if !ok {
			continue
		}
		if st.BytesRecv < prev.stat.BytesRecv || st.BytesSent < prev.stat.BytesSent ||
			st.PacketsRecv < prev.stat.PacketsRecv || st.PacketsSent < prev.stat.PacketsSent {
			s.logger.Debug().Str("interface", st.Name).Msg("Counters reset, re-baselining")
			continue
		}
		evs = append(evs, features.Event{
			ID:        fmt.Sprintf("NIC-%s-%d", st.Name, now.Unix()),
			SourceIP:  st.Name,
			BytesIn:   float64(st.BytesRecv - prev.stat.BytesRecv),
			BytesOut:  float64(st.BytesSent - prev.stat.BytesSent),
			Packets:   float64((st.PacketsRecv - prev.stat.PacketsRecv) + (st.PacketsSent - prev.stat.PacketsSent)),
			Duration:  now.Sub(prev.at).Seconds(),
			Internal:  isLoopback(st.Name),
			Timestamp: now.UTC(),
		})
	}
	return evs, nil
}

func (s *TrafficSampler) wanted(name string) bool {
	if s.interfaces != nil {
		return s.interfaces[name]
	}
	return !isLoopback(name)
}

func (s *TrafficSampler) report(ctx context.Context, err *svcerrors.ServiceError) {
	if s.errors != nil {
		_ = s.errors.HandleError(ctx, err)
		return
	}
	s.logger.Error().Err(err).Msg("Traffic sampler failed")
}

func isLoopback(name string) bool {
	return name == "lo" || name == "lo0"
}
