package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/whispr-dev/sdr/internal/sdr"
)

// step is one scripted source read: a block of interleaved samples or an
// error.
type step struct {
	iq  []int16
	err error
}

// scriptedSource plays back a fixed sequence of reads. Once the script is
// exhausted it closes done and keeps returning timeouts, so tests can cancel
// the run the moment everything has been consumed.
type scriptedSource struct {
	steps []step
	idx   int

	tuneErr     error
	activateErr error

	tunes       []float64
	activated   bool
	deactivated bool

	done     chan struct{}
	doneOnce sync.Once
}

func newScriptedSource(steps ...step) *scriptedSource {
	return &scriptedSource{steps: steps, done: make(chan struct{})}
}

func (s *scriptedSource) Tune(freqHz float64) error {
	if s.tuneErr != nil {
		return s.tuneErr
	}
	s.tunes = append(s.tunes, freqHz)
	return nil
}

func (s *scriptedSource) Activate() error {
	if s.activateErr != nil {
		return s.activateErr
	}
	s.activated = true
	return nil
}

func (s *scriptedSource) Deactivate() error {
	s.deactivated = true
	return nil
}

func (s *scriptedSource) Close() error { return nil }

func (s *scriptedSource) Describe() (string, string) { return "scripted", "test" }

func (s *scriptedSource) Read(iq []int16, timeout time.Duration) (int, error) {
	if s.idx >= len(s.steps) {
		s.doneOnce.Do(func() { close(s.done) })
		if timeout > time.Millisecond {
			timeout = time.Millisecond
		}
		time.Sleep(timeout)
		return 0, nil
	}

	st := s.steps[s.idx]
	s.idx++
	if st.err != nil {
		return 0, st.err
	}
	copy(iq, st.iq)
	return len(st.iq) / 2, nil
}

// fakeSession records appended samples and the finalized metadata.
type fakeSession struct {
	path        string
	appended    []int16
	appends     int
	finalized   bool
	meta        Metadata
	appendErr   error
	finalizeErr error
}

func (s *fakeSession) Append(iq []int16) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	if s.finalized {
		return errors.New("append after finalize")
	}
	s.appended = append(s.appended, iq...)
	s.appends++
	return nil
}

func (s *fakeSession) Finalize(meta *Metadata) error {
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	s.finalized = true
	s.meta = *meta
	return nil
}

func (s *fakeSession) Path() string { return s.path }

type fakeWriter struct {
	specs     []SessionSpec
	sessions  []*fakeSession
	appendErr error
	openErr   error

	// set by Open when a session is opened while the previous one is
	// still not finalized
	overlapped bool
}

func (w *fakeWriter) Open(spec SessionSpec) (Session, error) {
	if w.openErr != nil {
		return nil, w.openErr
	}
	if n := len(w.sessions); n > 0 && !w.sessions[n-1].finalized {
		w.overlapped = true
	}
	sess := &fakeSession{path: "fake.cs16", appendErr: w.appendErr}
	w.specs = append(w.specs, spec)
	w.sessions = append(w.sessions, sess)
	return sess, nil
}

// constIQ builds pairs with in-phase amplitude amp and zero quadrature.
func constIQ(pairs int, amp int16) []int16 {
	iq := make([]int16, pairs*2)
	for i := 0; i < pairs; i++ {
		iq[2*i] = amp
	}
	return iq
}

// smallParams is a compact parameter set where one read block yields exactly
// one energy window, so scripted scenarios are easy to reason about.
func smallParams() Params {
	return Params{
		SampleRate:        1_000_000,
		Band:              "EU868",
		Format:            FormatCS16,
		WindowSamples:     1000,
		HopSamples:        1000,
		NoiseWindows:      2,
		NoisePercentile:   50,
		MarginDB:          6,
		PreRollSamples:    500,
		PostRollSamples:   2500,
		MaxCaptureSamples: 1_000_000,
		ReadBlockSamples:  1000,
	}
}

// runScripted drives RunChannel with a context that is cancelled as soon as
// the source script has been fully consumed.
func runScripted(t *testing.T, e *Engine, src *scriptedSource, dwell time.Duration) (int, error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-src.done
		cancel()
	}()

	return e.RunChannel(ctx, src, 868_100_000, dwell)
}

func TestEngine_TriggeredCapture(t *testing.T) {
	// A full-scale dwell: 5 Msps, 10 ms windows with 5 ms hop, 40-window
	// floor history at the 20th percentile, 8 dB margin, 0.3 s pre-roll,
	// 0.4 s post-roll.
	p := Params{
		SampleRate:        5_000_000,
		Band:              "EU868",
		Format:            FormatCS16,
		WindowSamples:     50_000,
		HopSamples:        25_000,
		NoiseWindows:      40,
		NoisePercentile:   20,
		MarginDB:          8,
		PreRollSamples:    1_500_000,
		PostRollSamples:   2_000_000,
		MaxCaptureSamples: 20_000_000,
		ReadBlockSamples:  50_000,
	}

	warm := constIQ(50_000, 100)
	burst := constIQ(50_000, 1000)

	var steps []step
	for i := 0; i < 40; i++ {
		steps = append(steps, step{iq: warm})
	}
	steps = append(steps, step{iq: burst})
	for i := 0; i < 40; i++ {
		steps = append(steps, step{iq: warm})
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{Device: "scripted"}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled after script end, got %v", err)
	}
	if captures != 1 {
		t.Fatalf("expected 1 capture, got %d", captures)
	}
	if len(w.sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(w.sessions))
	}

	sess := w.sessions[0]
	if !sess.finalized {
		t.Fatal("expected the session to be finalized")
	}

	// 1.5M pre-roll + 50k triggering block + 2M post-roll hold.
	const wantSamples = 1_500_000 + 50_000 + 2_000_000
	if sess.meta.SamplesCaptured != wantSamples {
		t.Errorf("expected %d samples captured, got %d", wantSamples, sess.meta.SamplesCaptured)
	}
	if len(sess.appended) != wantSamples*2 {
		t.Errorf("expected %d values on disk, got %d", wantSamples*2, len(sess.appended))
	}
	if sess.meta.DurationSEst != 0.71 {
		t.Errorf("expected duration 0.71 s, got %g", sess.meta.DurationSEst)
	}
	if sess.meta.CaptureSeq != 1 {
		t.Errorf("expected capture_seq 1, got %d", sess.meta.CaptureSeq)
	}
	if sess.meta.FrequencyHz != 868_100_000 {
		t.Errorf("expected freq 868.1 MHz in metadata, got %g", sess.meta.FrequencyHz)
	}

	// Pre-roll history precedes the triggering block in the output.
	if sess.appended[0] != 100 {
		t.Errorf("expected pre-roll amplitude 100 at start, got %d", sess.appended[0])
	}
	if sess.appended[1_500_000*2] != 1000 {
		t.Errorf("expected triggering block amplitude 1000 after pre-roll, got %d", sess.appended[1_500_000*2])
	}

	spec := w.specs[0]
	if spec.Sequence != 1 || spec.FrequencyHz != 868_100_000 || spec.RateSps != 5_000_000 {
		t.Errorf("unexpected session spec: %+v", spec)
	}
}

func TestEngine_TriggerThresholdDeterminism(t *testing.T) {
	// The floor warms to amplitude 100; with a 6 dB margin the trigger
	// threshold sits at amplitude 100·10^(6/20) ≈ 199.526. One amplitude
	// unit either side must decide the trigger, and the comparison is
	// strictly greater-than.
	testCases := []struct {
		name    string
		amp     int16
		trigger bool
	}{
		{"just below threshold", 199, false},
		{"just above threshold", 200, true},
		{"at floor", 100, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			steps := []step{
				{iq: constIQ(1000, 100)},
				{iq: constIQ(1000, 100)},
				{iq: constIQ(1000, tc.amp)},
			}

			w := &fakeWriter{}
			e, err := New(smallParams(), Metadata{}, w)
			if err != nil {
				t.Fatalf("failed to create engine: %v", err)
			}

			captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("unexpected error: %v", err)
			}

			want := 0
			if tc.trigger {
				want = 1
			}
			if captures != want || len(w.sessions) != want {
				t.Errorf("amplitude %d: expected %d captures, got %d", tc.amp, want, captures)
			}
		})
	}
}

func TestEngine_NoTriggerDuringWarmup(t *testing.T) {
	p := smallParams()
	p.NoiseWindows = 40

	// A loud block while the floor history is still short must not fire.
	steps := []step{
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 1000)},
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	if captures != 0 || len(w.sessions) != 0 {
		t.Errorf("expected no captures during warm-up, got %d", captures)
	}
}

func TestEngine_MaxCaptureClamp(t *testing.T) {
	p := smallParams()
	p.MaxCaptureSamples = 2300
	p.PostRollSamples = 10_000

	steps := []step{
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 1000)}, // trigger: 500 pre + 1000 block
		{iq: constIQ(1000, 1000)}, // only 800 of 1000 fit the budget
		{iq: constIQ(1000, 1000)}, // past the budget, must not append further
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}

	if captures != 1 || len(w.sessions) != 1 {
		t.Fatalf("expected exactly 1 capture, got %d", captures)
	}

	first := w.sessions[0]
	if first.meta.SamplesCaptured != 2300 {
		t.Errorf("expected capture clamped to 2300 samples, got %d", first.meta.SamplesCaptured)
	}
	if len(first.appended) != 2300*2 {
		t.Errorf("expected 4600 values written, got %d", len(first.appended))
	}
	if !first.finalized {
		t.Error("expected the clamped capture to be finalized")
	}
}

func TestEngine_PostRollReArm(t *testing.T) {
	p := smallParams() // post-roll 2500 samples, 2.5 blocks

	steps := []step{
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 1000)}, // trigger
		{iq: constIQ(1000, 100)},  // dip, hold counts down
		{iq: constIQ(1000, 1000)}, // re-arm before the hold expires
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)}, // hold expires here
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}

	// One continuous capture: the dip never closed the session.
	if captures != 1 || len(w.sessions) != 1 {
		t.Fatalf("expected a single re-armed capture, got %d", captures)
	}

	// 500 pre + 6 recorded blocks of 1000.
	if got := w.sessions[0].meta.SamplesCaptured; got != 6500 {
		t.Errorf("expected 6500 samples, got %d", got)
	}
}

func TestEngine_SequentialCaptures(t *testing.T) {
	p := smallParams()
	p.PostRollSamples = 1000 // one quiet block closes a capture

	steps := []step{
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 1000)}, // capture 1
		{iq: constIQ(1000, 100)},  // closes capture 1
		{iq: constIQ(1000, 1000)}, // capture 2
		{iq: constIQ(1000, 100)},  // closes capture 2
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	if captures != 2 || len(w.sessions) != 2 {
		t.Fatalf("expected 2 captures, got %d", captures)
	}

	if w.overlapped {
		t.Error("a session was opened before the previous one was finalized")
	}
	if w.specs[0].Sequence != 1 || w.specs[1].Sequence != 2 {
		t.Errorf("expected sequences 1 and 2, got %d and %d", w.specs[0].Sequence, w.specs[1].Sequence)
	}
	if w.sessions[0].meta.CaptureSeq != 1 || w.sessions[1].meta.CaptureSeq != 2 {
		t.Errorf("expected capture_seq 1 and 2, got %d and %d",
			w.sessions[0].meta.CaptureSeq, w.sessions[1].meta.CaptureSeq)
	}
}

func TestEngine_DeviceFaultFinalizes(t *testing.T) {
	p := smallParams()
	p.PostRollSamples = 10_000

	fault := errors.New("device detached")
	steps := []step{
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 1000)}, // trigger
		{err: fault},
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := e.RunChannel(context.Background(), newScriptedSource(steps...), 868e6, time.Minute)
	if !errors.Is(err, fault) {
		t.Fatalf("expected the device fault to surface, got %v", err)
	}
	if captures != 1 {
		t.Errorf("expected 1 capture before the fault, got %d", captures)
	}

	sess := w.sessions[0]
	if !sess.finalized {
		t.Error("expected the active capture to be finalized on device fault")
	}
	if sess.meta.SamplesCaptured != 1500 { // 500 pre + triggering block
		t.Errorf("expected 1500 samples saved, got %d", sess.meta.SamplesCaptured)
	}
}

func TestEngine_OverrunIsRecoverable(t *testing.T) {
	p := smallParams()
	p.PostRollSamples = 1000

	steps := []step{
		{iq: constIQ(1000, 100)},
		{err: sdr.ErrOverrun},
		{iq: constIQ(1000, 100)},
		{err: sdr.ErrOverrun},
		{iq: constIQ(1000, 1000)},
		{iq: constIQ(1000, 100)},
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("overrun must not abort the dwell, got %v", err)
	}
	if captures != 1 {
		t.Errorf("expected 1 capture despite overruns, got %d", captures)
	}
}

func TestEngine_CancellationFinalizes(t *testing.T) {
	p := smallParams()
	p.PostRollSamples = 100_000 // recording still active when the script ends

	steps := []step{
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 1000)}, // trigger
	}

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	captures, err := runScripted(t, e, newScriptedSource(steps...), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if captures != 1 {
		t.Fatalf("expected 1 capture, got %d", captures)
	}
	if !w.sessions[0].finalized {
		t.Error("expected the active capture to be force-finalized on cancellation")
	}
}

func TestEngine_WriteFaultAborts(t *testing.T) {
	p := smallParams()

	steps := []step{
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 100)},
		{iq: constIQ(1000, 1000)},
	}

	w := &fakeWriter{appendErr: errors.New("disk full")}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if _, err = e.RunChannel(context.Background(), newScriptedSource(steps...), 868e6, time.Minute); err == nil {
		t.Fatal("expected a write fault to abort the dwell")
	}
}

func TestEngine_HistoryClearedBetweenChannels(t *testing.T) {
	p := smallParams()

	w := &fakeWriter{}
	e, err := New(p, Metadata{}, w)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	// First dwell warms the 2-window history; the dwell deadline ends it.
	warm := newScriptedSource(
		step{iq: constIQ(1000, 100)},
		step{iq: constIQ(1000, 100)},
	)
	if _, err = e.RunChannel(context.Background(), warm, 868e6, 50*time.Millisecond); err != nil {
		t.Fatalf("first dwell failed: %v", err)
	}

	// A loud first block on the next channel must not trigger: the history
	// starts empty again and one window is not enough to estimate a floor.
	loud := newScriptedSource(step{iq: constIQ(1000, 1000)})
	captures, err := e.RunChannel(context.Background(), loud, 869e6, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("second dwell failed: %v", err)
	}
	if captures != 0 || len(w.sessions) != 0 {
		t.Errorf("expected no trigger from a stale floor, got %d captures", captures)
	}
}

func TestParams_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero sample rate", func(p *Params) { p.SampleRate = 0 }},
		{"empty band", func(p *Params) { p.Band = "" }},
		{"zero window", func(p *Params) { p.WindowSamples = 0 }},
		{"hop exceeds window", func(p *Params) { p.HopSamples = p.WindowSamples + 1 }},
		{"zero noise windows", func(p *Params) { p.NoiseWindows = 0 }},
		{"percentile out of range", func(p *Params) { p.NoisePercentile = 101 }},
		{"negative pre-roll", func(p *Params) { p.PreRollSamples = -1 }},
		{"zero post-roll", func(p *Params) { p.PostRollSamples = 0 }},
		{"max not above pre-roll", func(p *Params) { p.MaxCaptureSamples = int64(p.PreRollSamples) }},
		{"read block below window", func(p *Params) { p.ReadBlockSamples = p.WindowSamples - 1 }},
		{"bad format", func(p *Params) { p.Format = Format("cu8") }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := smallParams()
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	p := smallParams()
	if err := p.Validate(); err != nil {
		t.Errorf("expected valid parameters to pass, got %v", err)
	}
}
