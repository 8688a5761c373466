package evaluation

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/speech"
)

type fakeEvaluator struct {
	calls   int
	errs    []error
	outcome *speech.Outcome
	pcm     []byte
	panics  bool
}

func (f *fakeEvaluator) Evaluate(_ context.Context, text string, pcm []byte, onFrame speech.FrameHandler) (*speech.Outcome, error) {
	f.calls++
	if f.panics {
		panic("decoder exploded")
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	f.pcm = pcm
	if onFrame != nil {
		onFrame(speech.FrameEvent{SessionID: f.outcome.SessionID, Index: 1, Status: 2, Final: true, Kind: f.outcome.Result.Kind})
	}
	return f.outcome, nil
}

type fakeCache struct {
	items map[string]evaluation.EvaluationResult
	puts  int
}

func (c *fakeCache) Key(text string, audio []byte) string {
	return text + "|" + strconv.Itoa(len(audio))
}

func (c *fakeCache) Get(key string) (evaluation.EvaluationResult, bool) {
	r, ok := c.items[key]
	return r, ok
}

func (c *fakeCache) Put(key string, result evaluation.EvaluationResult) error {
	c.puts++
	c.items[key] = result
	return nil
}

type fakeRecorder struct {
	records []evaluation.EvaluationResult
	err     error
}

func (r *fakeRecorder) Record(result evaluation.EvaluationResult) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.records = append(r.records, result)
	return "20240301_100000_abcd1234", nil
}

type fakeCoach struct{ tips []string }

func (c fakeCoach) Tips(context.Context, evaluation.EvaluationResult) []string { return c.tips }

func tone(seconds float64, rate, channels int, amplitude float64) evaluation.AudioBuffer {
	n := int(seconds * float64(rate))
	samples := make([]int16, 0, n*channels)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			samples = append(samples, v)
		}
	}
	return evaluation.FromSamples(samples, rate, channels)
}

func completeOutcome() *speech.Outcome {
	return &speech.Outcome{
		SessionID: "session-1",
		Result: speech.Fragment{
			Kind:   speech.FragmentComplete,
			Scores: speech.Scores{Phone: 88, Fluency: 82, Integrity: 90, Tone: 83, Total: 86},
			Words: []evaluation.WordResult{
				{Content: "四", Errors: []evaluation.PhoneticError{{Phoneme: "s", Severity: 2}}},
			},
		},
		Frames: 3,
	}
}

type fixture struct {
	svc       *Service
	evaluator *fakeEvaluator
	cache     *fakeCache
	recorder  *fakeRecorder
}

func newFixture(t *testing.T, mutate ...func(*Dependencies, *Options)) fixture {
	t.Helper()
	f := fixture{
		evaluator: &fakeEvaluator{outcome: completeOutcome()},
		cache:     &fakeCache{items: make(map[string]evaluation.EvaluationResult)},
		recorder:  &fakeRecorder{},
	}
	deps := Dependencies{Evaluator: f.evaluator, Cache: f.cache, Recorder: f.recorder}
	opts := DefaultOptions()
	opts.RetryDelay = 0
	for _, m := range mutate {
		m(&deps, &opts)
	}

	svc, err := NewService(deps, opts, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	f.svc = svc
	return f
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, func(d *Dependencies, _ *Options) {
		d.Coach = fakeCoach{tips: []string{"先慢读再加速"}}
	})

	var events []speech.FrameEvent
	report, err := f.svc.Evaluate(context.Background(), Request{
		Text:      " 四是四，十是十 ",
		TwisterID: "tw001",
		Audio:     tone(2, 16000, 1, 5000),
		OnFrame:   func(e speech.FrameEvent) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("Evaluate err: %v", err)
	}

	res := report.Result
	if res.Overall != 86 || res.Grade != evaluation.GradeGood {
		t.Fatalf("overall = %v grade = %v", res.Overall, res.Grade)
	}
	if res.Score.Text != "四是四，十是十" || res.TwisterID != "tw001" || res.SessionID != "session-1" {
		t.Fatalf("result metadata = %+v", res)
	}
	if res.NoResult || report.Cached || !report.Verdict.Valid {
		t.Fatalf("report flags = %+v", report)
	}
	if res.Tips[len(res.Tips)-1] != "先慢读再加速" {
		t.Fatalf("coach tip missing: %q", res.Tips)
	}
	if report.HistoryID == "" || len(f.recorder.records) != 1 || f.cache.puts != 1 {
		t.Fatalf("history id %q, records %d, puts %d", report.HistoryID, len(f.recorder.records), f.cache.puts)
	}
	if len(events) != 1 || !events[0].Final {
		t.Fatalf("events = %+v", events)
	}
}

func TestEvaluateCacheHit(t *testing.T) {
	f := newFixture(t)
	req := Request{Text: "四是四", Audio: tone(1, 16000, 1, 5000)}

	if _, err := f.svc.Evaluate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	report, err := f.svc.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Cached || f.evaluator.calls != 1 {
		t.Fatalf("cached = %v, calls = %d", report.Cached, f.evaluator.calls)
	}

	req.SkipCache = true
	if report, _ := f.svc.Evaluate(context.Background(), req); report.Cached || f.evaluator.calls != 2 {
		t.Fatalf("skip cache: cached = %v, calls = %d", report.Cached, f.evaluator.calls)
	}
}

func TestEvaluateRejectsInvalidAudio(t *testing.T) {
	cases := []struct {
		name  string
		audio evaluation.AudioBuffer
	}{
		{name: "too short", audio: tone(0.2, 16000, 1, 5000)},
		{name: "too quiet", audio: tone(1, 16000, 1, 100)},
		{name: "bad format", audio: evaluation.NewPCM16([]byte{1, 2, 3}, 16000, 1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			report, err := f.svc.Evaluate(context.Background(), Request{Text: "四是四", Audio: tc.audio})
			if !evaluation.IsKind(err, evaluation.KindAudioInvalid) {
				t.Fatalf("err = %v", err)
			}
			if report == nil || report.Verdict.Valid || len(report.Verdict.Issues) == 0 {
				t.Fatalf("report = %+v", report)
			}
			if f.evaluator.calls != 0 {
				t.Fatal("endpoint called for invalid audio")
			}
		})
	}
}

func TestEvaluateRequiresText(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Evaluate(context.Background(), Request{Text: "  ", Audio: tone(1, 16000, 1, 5000)})
	if !errors.Is(err, evaluation.ErrNoReferenceText) {
		t.Fatalf("err = %v", err)
	}
}

func TestEvaluateRetries(t *testing.T) {
	connectErr := evaluation.NewError(evaluation.KindConnect, "connect", errors.New("dial tcp: refused"))
	authErr := &evaluation.Error{Kind: evaluation.KindAuth, Op: "receive", Code: 10105}
	droppedErr := evaluation.NewError(evaluation.KindConnect, "receive results", errors.New("unexpected EOF"))

	cases := []struct {
		name      string
		errs      []error
		retries   int
		wantCalls int
		wantKind  evaluation.Kind
	}{
		{name: "connect retried", errs: []error{connectErr}, retries: 1, wantCalls: 2},
		{name: "retries exhausted", errs: []error{connectErr, connectErr}, retries: 1, wantCalls: 2, wantKind: evaluation.KindConnect},
		{name: "auth not retried", errs: []error{authErr}, retries: 3, wantCalls: 1, wantKind: evaluation.KindAuth},
		{name: "no retries", errs: []error{connectErr}, retries: 0, wantCalls: 1, wantKind: evaluation.KindConnect},
		{name: "dropped after audio not retried", errs: []error{droppedErr}, retries: 3, wantCalls: 1, wantKind: evaluation.KindConnect},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(_ *Dependencies, o *Options) { o.ConnectRetries = tc.retries })
			f.evaluator.errs = tc.errs

			report, err := f.svc.Evaluate(context.Background(), Request{Text: "四是四", Audio: tone(1, 16000, 1, 5000)})
			if f.evaluator.calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", f.evaluator.calls, tc.wantCalls)
			}
			if tc.wantKind == evaluation.KindUnknown {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if !evaluation.IsKind(err, tc.wantKind) {
				t.Fatalf("err = %v, want kind %v", err, tc.wantKind)
			}
			if report == nil || report.Result.Overall != 0 || len(f.recorder.records) != 0 {
				t.Fatalf("failed evaluation produced a result: %+v", report)
			}
		})
	}
}

func TestEvaluateNoResult(t *testing.T) {
	cases := []struct {
		name string
		frag speech.Fragment
	}{
		{name: "empty", frag: speech.Fragment{Kind: speech.FragmentEmpty}},
		{name: "partial only", frag: speech.Fragment{
			Kind:  speech.FragmentPartial,
			Words: []evaluation.WordResult{{Content: "四"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(d *Dependencies, _ *Options) {
				d.Coach = fakeCoach{tips: []string{"先慢读再加速"}}
			})
			f.evaluator.outcome = &speech.Outcome{SessionID: "s", Result: tc.frag, Frames: 2}

			report, err := f.svc.Evaluate(context.Background(), Request{Text: "四是四", Audio: tone(1, 16000, 1, 5000)})
			if err != nil {
				t.Fatal(err)
			}
			if !report.Result.NoResult || report.Result.Overall != 0 {
				t.Fatalf("result = %+v", report.Result)
			}
			if f.cache.puts != 0 || len(f.recorder.records) != 0 || report.HistoryID != "" {
				t.Fatal("unscored result should not be cached or recorded")
			}
			for _, tip := range report.Result.Tips {
				if tip == "先慢读再加速" {
					t.Fatal("coach should not run without scores")
				}
			}
		})
	}
}

func TestEvaluateRecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.evaluator.panics = true

	report, err := f.svc.Evaluate(context.Background(), Request{Text: "四是四", Audio: tone(1, 16000, 1, 5000)})
	if !evaluation.IsKind(err, evaluation.KindPipeline) || report != nil {
		t.Fatalf("report = %+v, err = %v", report, err)
	}
}

func TestEvaluateNormalizesAudio(t *testing.T) {
	f := newFixture(t, func(_ *Dependencies, o *Options) { o.Preprocess = false })

	if _, err := f.svc.Evaluate(context.Background(), Request{Text: "四是四", Audio: tone(1, 8000, 2, 5000)}); err != nil {
		t.Fatal(err)
	}
	samples := len(f.evaluator.pcm) / 2
	if math.Abs(float64(samples-16000)) > 800 {
		t.Fatalf("normalized samples = %d", samples)
	}
}

func TestEvaluateRecorderFailureKeepsResult(t *testing.T) {
	f := newFixture(t)
	f.recorder.err = errors.New("disk full")

	report, err := f.svc.Evaluate(context.Background(), Request{Text: "四是四", Audio: tone(1, 16000, 1, 5000)})
	if err != nil || report.HistoryID != "" || report.Result.Overall == 0 {
		t.Fatalf("report = %+v, err = %v", report, err)
	}
}

func TestNewServiceRequiresEvaluator(t *testing.T) {
	if _, err := NewService(Dependencies{}, DefaultOptions(), nil); err == nil {
		t.Fatal("expected error without evaluator")
	}
}
