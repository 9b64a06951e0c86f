package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProgressIndicator reports progress of a long-running loop on a logger.
// It logs at most once per step percent, so it is safe to call Add from
// tight worker loops.
type ProgressIndicator struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	name      string
	total     int
	current   int
	step      int // percent between two log lines
	lastLog   int // last logged percent
	startTime time.Time
}

// ProgressConfig configures progress indicator behavior
type ProgressConfig struct {
	StepPercent int // default 5
}

// NewProgressIndicator creates a new progress indicator
func NewProgressIndicator(logger zerolog.Logger, name string, total int, config ProgressConfig) *ProgressIndicator {
	step := config.StepPercent
	if step <= 0 || step > 100 {
		step = 5
	}
	return &ProgressIndicator{
		logger:    logger,
		name:      name,
		total:     total,
		step:      step,
		startTime: time.Now(),
	}
}

// Add advances progress by n items
func (pi *ProgressIndicator) Add(n int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current += n
	if pi.total <= 0 {
		return
	}
	percent := pi.current * 100 / pi.total
	if percent < pi.lastLog+pi.step {
		return
	}
	pi.lastLog = percent - percent%pi.step

	ev := pi.logger.Info().
		Str("task", pi.name).
		Int("done", pi.current).
		Int("total", pi.total).
		Int("percent", percent)
	if eta, ok := pi.eta(); ok {
		ev = ev.Dur("eta", eta)
	}
	ev.Msg("progress")
}

// Current returns the number of items done so far
func (pi *ProgressIndicator) Current() int {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.current
}

// Finish logs completion with the elapsed time
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.logger.Info().
		Str("task", pi.name).
		Int("items", pi.current).
		Dur("elapsed", time.Since(pi.startTime).Round(time.Millisecond)).
		Msg("completed")
}

// Fail logs the failure reason with the progress made so far
func (pi *ProgressIndicator) Fail(err error) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.logger.Error().
		Err(err).
		Str("task", pi.name).
		Int("done", pi.current).
		Int("total", pi.total).
		Msg("failed")
}

func (pi *ProgressIndicator) eta() (time.Duration, bool) {
	if pi.current <= 0 || pi.current >= pi.total {
		return 0, false
	}
	elapsed := time.Since(pi.startTime)
	rate := float64(pi.current) / elapsed.Seconds()
	if rate <= 0 {
		return 0, false
	}
	remaining := float64(pi.total-pi.current) / rate
	return time.Duration(remaining * float64(time.Second)).Round(time.Second), true
}

// StepLogger provides step-by-step timing for pipeline use cases
type StepLogger struct {
	logger    zerolog.Logger
	name      string
	steps     []string
	current   int
	startTime time.Time
	stepStart time.Time
	stepTimes []time.Duration
	observe   func(step string, d time.Duration)
}

// NewStepLogger creates a new step logger for a pipeline. observe, when
// non-nil, receives every completed step duration.
func NewStepLogger(logger zerolog.Logger, name string, steps []string, observe func(step string, d time.Duration)) *StepLogger {
	now := time.Now()
	return &StepLogger{
		logger:    logger,
		name:      name,
		steps:     steps,
		current:   -1,
		startTime: now,
		stepStart: now,
		stepTimes: make([]time.Duration, len(steps)),
		observe:   observe,
	}
}

// StartStep completes the running step, if any, and begins stepName
func (sl *StepLogger) StartStep(stepName string) {
	idx := -1
	for i, step := range sl.steps {
		if step == stepName {
			idx = i
			break
		}
	}
	if idx == -1 {
		sl.logger.Warn().Str("step", stepName).Msg("unknown pipeline step")
		return
	}

	sl.CompleteStep()
	sl.current = idx
	sl.stepStart = time.Now()

	sl.logger.Info().
		Str("pipeline", sl.name).
		Str("step", stepName).
		Int("step_number", idx+1).
		Int("total_steps", len(sl.steps)).
		Msg("starting step")
}

// CompleteStep records the duration of the running step
func (sl *StepLogger) CompleteStep() {
	if sl.current < 0 {
		return
	}
	d := time.Since(sl.stepStart)
	sl.stepTimes[sl.current] = d
	if sl.observe != nil {
		sl.observe(sl.steps[sl.current], d)
	}
	sl.logger.Debug().
		Str("pipeline", sl.name).
		Str("step", sl.steps[sl.current]).
		Dur("duration", d).
		Msg("step completed")
	sl.current = -1
}

// Finish completes the last step and logs a timing summary
func (sl *StepLogger) Finish() {
	sl.CompleteStep()
	total := time.Since(sl.startTime)

	ev := sl.logger.Info().Str("pipeline", sl.name).Dur("total", total)
	for i, step := range sl.steps {
		ev = ev.Dur(step, sl.stepTimes[i])
	}
	ev.Msg("pipeline completed")
}

// Fail logs a pipeline failure at the running step
func (sl *StepLogger) Fail(err error) {
	step := "unknown"
	if sl.current >= 0 && sl.current < len(sl.steps) {
		step = sl.steps[sl.current]
	}
	sl.logger.Error().
		Err(err).
		Str("pipeline", sl.name).
		Str("failed_step", step).
		Msg("pipeline failed")
}

// StepTimes returns a copy of the recorded step durations
func (sl *StepLogger) StepTimes() map[string]time.Duration {
	out := make(map[string]time.Duration, len(sl.steps))
	for i, step := range sl.steps {
		out[step] = sl.stepTimes[i]
	}
	return out
}
