package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func events(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		out = append(out, ev)
	}
	return out
}

func TestProgressIndicatorLogsAtSteps(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(zerolog.New(&buf), "similarity", 100, ProgressConfig{StepPercent: 25})

	for i := 0; i < 100; i++ {
		pi.Add(1)
	}
	assert.Equal(t, 100, pi.Current())

	var percents []float64
	for _, ev := range events(t, &buf) {
		assert.Equal(t, "progress", ev["message"])
		percents = append(percents, ev["percent"].(float64))
	}
	assert.Equal(t, []float64{25, 50, 75, 100}, percents)
}

func TestProgressIndicatorDefaultsAndZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(zerolog.New(&buf), "empty", 0, ProgressConfig{StepPercent: 500})
	assert.Equal(t, 5, pi.step)

	pi.Add(3)
	assert.Empty(t, buf.String())
	pi.Finish()

	evs := events(t, &buf)
	require.Len(t, evs, 1)
	assert.Equal(t, "completed", evs[0]["message"])
	assert.Equal(t, 3.0, evs[0]["items"])
}

func TestProgressIndicatorConcurrentAdd(t *testing.T) {
	pi := NewProgressIndicator(zerolog.Nop(), "rows", 1000, ProgressConfig{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 125; i++ {
				pi.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, pi.Current())
}

func TestProgressIndicatorFail(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(zerolog.New(&buf), "rows", 10, ProgressConfig{})
	pi.Fail(errors.New("boom"))

	evs := events(t, &buf)
	require.Len(t, evs, 1)
	assert.Equal(t, "error", evs[0]["level"])
	assert.Equal(t, "boom", evs[0]["error"])
}

func TestStepLoggerRecordsSteps(t *testing.T) {
	var buf bytes.Buffer
	observed := map[string]time.Duration{}
	sl := NewStepLogger(zerolog.New(&buf), "initialize", []string{"load", "copy", "save"},
		func(step string, d time.Duration) { observed[step] = d })

	sl.StartStep("load")
	time.Sleep(5 * time.Millisecond)
	sl.StartStep("copy")
	sl.StartStep("save")
	sl.Finish()

	assert.Len(t, observed, 3)
	assert.GreaterOrEqual(t, observed["load"], 5*time.Millisecond)
	assert.Equal(t, observed["load"], sl.StepTimes()["load"])

	evs := events(t, &buf)
	last := evs[len(evs)-1]
	assert.Equal(t, "pipeline completed", last["message"])
	assert.Equal(t, "initialize", last["pipeline"])
}

func TestStepLoggerUnknownStepAndFail(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStepLogger(zerolog.New(&buf), "network", []string{"load"}, nil)

	sl.StartStep("nope")
	sl.StartStep("load")
	sl.Fail(errors.New("no datasets"))

	evs := events(t, &buf)
	require.Len(t, evs, 3)
	assert.Equal(t, "unknown pipeline step", evs[0]["message"])
	assert.Equal(t, "load", evs[2]["failed_step"])
	assert.Equal(t, "no datasets", evs[2]["error"])
}
