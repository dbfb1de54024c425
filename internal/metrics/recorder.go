// Package metrics records setup run transitions as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	metricsNamespaceConstant            = "devsetup"
	transitionsMetricNameConstant       = "task_transitions_total"
	transitionsMetricHelpConstant       = "State transitions taken by setup tasks."
	outcomesMetricNameConstant          = "task_outcomes_total"
	outcomesMetricHelpConstant          = "Terminal outcomes of setup tasks."
	durationMetricNameConstant          = "task_duration_seconds"
	durationMetricHelpConstant          = "Time from probing a setup task to its terminal state."
	taskTypeLabelConstant               = "task_type"
	fromStateLabelConstant              = "from"
	toStateLabelConstant                = "to"
	outcomeLabelConstant                = "outcome"
	textfilePathRequiredMessageConstant = "metrics textfile path required"
	registrationErrorTemplateConstant   = "unable to register setup metrics: %w"
	textfileErrorTemplateConstant       = "unable to write metrics textfile %s: %w"
)

// Terminal outcomes reported under the outcome label.
const (
	OutcomeExecuted = "executed"
	OutcomeSkipped  = "skipped"
	OutcomePlanned  = "planned"
	OutcomeAborted  = "aborted"
)

// ErrTextfilePathRequired indicates WriteToTextfile was called without a destination.
var ErrTextfilePathRequired = errors.New(textfilePathRequiredMessageConstant)

// Recorder is a setup.Observer backed by its own Prometheus registry.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
}

// NewRecorder builds a recorder with freshly registered collectors.
func NewRecorder() (*Recorder, error) {
	recorder := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespaceConstant,
				Name:      transitionsMetricNameConstant,
				Help:      transitionsMetricHelpConstant,
			},
			[]string{taskTypeLabelConstant, fromStateLabelConstant, toStateLabelConstant},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespaceConstant,
				Name:      outcomesMetricNameConstant,
				Help:      outcomesMetricHelpConstant,
			},
			[]string{taskTypeLabelConstant, outcomeLabelConstant},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespaceConstant,
				Name:      durationMetricNameConstant,
				Help:      durationMetricHelpConstant,
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{taskTypeLabelConstant, outcomeLabelConstant},
		),
	}

	for _, collector := range []prometheus.Collector{recorder.transitions, recorder.outcomes, recorder.durations} {
		if registrationError := recorder.registry.Register(collector); registrationError != nil {
			return nil, fmt.Errorf(registrationErrorTemplateConstant, registrationError)
		}
	}
	return recorder, nil
}

// Gatherer exposes the registry for scraping or testing.
func (recorder *Recorder) Gatherer() prometheus.Gatherer {
	return recorder.registry
}

// ObserveTransition implements setup.Observer.
func (recorder *Recorder) ObserveTransition(transition setup.Transition) {
	taskType := transition.Identity.Type
	recorder.transitions.WithLabelValues(taskType, string(transition.From), string(transition.To)).Inc()

	outcome, terminal := terminalOutcome(transition)
	if !terminal {
		return
	}
	recorder.outcomes.WithLabelValues(taskType, outcome).Inc()
	recorder.durations.WithLabelValues(taskType, outcome).Observe(transition.Elapsed.Seconds())
}

// WriteToTextfile writes the current metrics in the node exporter textfile format.
func (recorder *Recorder) WriteToTextfile(path string) error {
	trimmedPath := strings.TrimSpace(path)
	if len(trimmedPath) == 0 {
		return ErrTextfilePathRequired
	}
	if writeError := prometheus.WriteToTextfile(trimmedPath, recorder.registry); writeError != nil {
		return fmt.Errorf(textfileErrorTemplateConstant, trimmedPath, writeError)
	}
	return nil
}

func terminalOutcome(transition setup.Transition) (string, bool) {
	switch transition.To {
	case setup.TaskStateAbort:
		return OutcomeAborted, true
	case setup.TaskStateDone:
		switch transition.From {
		case setup.TaskStateSkip:
			return OutcomeSkipped, true
		case setup.TaskStateExecute:
			return OutcomeExecuted, true
		default:
			return OutcomePlanned, true
		}
	default:
		return "", false
	}
}
