package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

type fakeISE struct {
	server *httptest.Server

	reject int
	hold   bool
	frames []string

	mu     sync.Mutex
	query  url.Values
	config map[string]any
	audio  []AudioMessage
}

func newFakeISE(t *testing.T, frames ...string) *fakeISE {
	t.Helper()
	f := &fakeISE{frames: frames}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeISE) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.query = r.URL.Query()
	f.mu.Unlock()

	if f.reject != 0 {
		http.Error(w, "unauthorized", f.reject)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var config map[string]any
	if err := conn.ReadJSON(&config); err != nil {
		return
	}
	f.mu.Lock()
	f.config = config
	f.mu.Unlock()

	for {
		var msg AudioMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.audio = append(f.audio, msg)
		f.mu.Unlock()
		if msg.Data.Status == StatusLastFrame {
			break
		}
	}

	if !f.hold {
		for _, frame := range f.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakeISE) iseConfig() evaluation.ISEConfig {
	return evaluation.ISEConfig{
		AppID:          "app",
		APIKey:         "key",
		APISecret:      "secret",
		Scheme:         "ws",
		Host:           strings.TrimPrefix(f.server.URL, "http://"),
		Path:           "/v2/open-ise",
		ChunkSize:      1280,
		Pacing:         0,
		ReceiveTimeout: 2 * time.Second,
	}
}

func (f *fakeISE) service(t *testing.T, mutate ...func(*evaluation.ISEConfig)) *Service {
	t.Helper()
	cfg := f.iseConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	svc, err := NewService(&cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return svc
}

func payloadFrame(status int, doc string) string {
	return `{"code":0,"message":"success","sid":"ise-test","data":{"status":` + strconv.Itoa(status) +
		`,"data":"` + base64.StdEncoding.EncodeToString([]byte(doc)) + `"}}`
}

func statusFrame(status int) string {
	return `{"code":0,"message":"success","sid":"ise-test","data":{"status":` + strconv.Itoa(status) + `,"data":null}}`
}

func errorFrame(code int) string {
	return `{"code":` + strconv.Itoa(code) + `,"message":"upstream failure","sid":"ise-test"}`
}

func TestEvaluateFullSession(t *testing.T) {
	fake := newFakeISE(t,
		statusFrame(1),
		statusFrame(1),
		payloadFrame(1, sentenceXML(`total_score="0" is_rejected="false"`)),
		payloadFrame(2, sentenceXML(`total_score="86" phone_score="88" fluency_score="82"`)),
	)
	svc := fake.service(t)

	var events []FrameEvent
	outcome, err := svc.Evaluate(context.Background(), "四是四", make([]byte, 32000), func(ev FrameEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Evaluate err: %v", err)
	}

	if outcome.Result.Kind != FragmentComplete || outcome.Result.Scores.Total != 86 {
		t.Fatalf("unexpected result: %+v", outcome.Result)
	}
	if len(outcome.Fragments) != 2 || outcome.Frames != 4 || len(outcome.Raw) != 4 {
		t.Fatalf("fragments=%d frames=%d raw=%d", len(outcome.Fragments), outcome.Frames, len(outcome.Raw))
	}
	if len(events) != 2 || !events[1].Final || events[1].Kind != FragmentComplete || events[0].Kind != FragmentPartial {
		t.Fatalf("unexpected frame events: %+v", events)
	}
	if svc.ActiveSessions() != 0 {
		t.Fatalf("session not released, active=%d", svc.ActiveSessions())
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	for _, key := range []string{"authorization", "date", "host"} {
		if fake.query.Get(key) == "" {
			t.Errorf("handshake query missing %s", key)
		}
	}

	business, _ := fake.config["business"].(map[string]any)
	common, _ := fake.config["common"].(map[string]any)
	if business["text"] != textBOM+"四是四" || common["app_id"] != "app" {
		t.Fatalf("unexpected config message: %+v", fake.config)
	}

	if len(fake.audio) != 25 {
		t.Fatalf("audio frames = %d, want 25", len(fake.audio))
	}
	for i, msg := range fake.audio[:24] {
		if msg.Business.Aus != 2 || msg.Data.Status != 1 {
			t.Fatalf("frame %d tagged %d/%d", i, msg.Business.Aus, msg.Data.Status)
		}
	}
	last := fake.audio[24]
	if last.Business.Aus != 4 || last.Data.Status != 2 {
		t.Fatalf("last frame tagged %d/%d", last.Business.Aus, last.Data.Status)
	}
}

func TestEvaluateWithoutPayloadReturnsEmpty(t *testing.T) {
	fake := newFakeISE(t, statusFrame(1), statusFrame(2))
	svc := fake.service(t)

	outcome, err := svc.Evaluate(context.Background(), "四是四", make([]byte, 3200), nil)
	if err != nil {
		t.Fatalf("Evaluate err: %v", err)
	}
	if outcome.Result.Kind != FragmentEmpty || outcome.Result.Scores != (Scores{}) || outcome.Result.Rejected {
		t.Fatalf("unexpected result: %+v", outcome.Result)
	}
}

func TestEvaluateSkipsMalformedFrame(t *testing.T) {
	fake := newFakeISE(t, `{not json`, payloadFrame(2, sentenceXML(`total_score="70"`)))
	svc := fake.service(t)

	outcome, err := svc.Evaluate(context.Background(), "四是四", make([]byte, 3200), nil)
	if err != nil {
		t.Fatalf("Evaluate err: %v", err)
	}
	if outcome.Result.Scores.Total != 70 || outcome.Frames != 2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestEvaluateUpstreamErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		code int
		want evaluation.Kind
	}{
		{name: "auth code", code: 10105, want: evaluation.KindAuth},
		{name: "license code", code: 11200, want: evaluation.KindAuth},
		{name: "engine failure", code: 10163, want: evaluation.KindConnect},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeISE(t, statusFrame(1), errorFrame(tc.code))
			svc := fake.service(t)

			_, err := svc.Evaluate(context.Background(), "四是四", make([]byte, 3200), nil)
			if !evaluation.IsKind(err, tc.want) {
				t.Fatalf("err = %v, want kind %v", err, tc.want)
			}
			var evalErr *evaluation.Error
			if !errors.As(err, &evalErr) || evalErr.Code != tc.code {
				t.Fatalf("error code not carried: %v", err)
			}
		})
	}
}

func TestReceiveResultsTimeout(t *testing.T) {
	fake := newFakeISE(t)
	fake.hold = true
	svc := fake.service(t, func(cfg *evaluation.ISEConfig) { cfg.ReceiveTimeout = 200 * time.Millisecond })

	session := svc.NewSession()
	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := session.SendConfig("四是四"); err != nil {
		t.Fatalf("SendConfig err: %v", err)
	}
	if err := session.StreamAudio(ctx, make([]byte, 2560), 1280); err != nil {
		t.Fatalf("StreamAudio err: %v", err)
	}

	start := time.Now()
	_, err := session.ReceiveResults(ctx, nil)
	if !evaluation.IsKind(err, evaluation.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
	if session.State() != StateErrored {
		t.Fatalf("state = %s, want errored", session.State())
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	fake := newFakeISE(t)
	fake.hold = true
	svc := fake.service(t, func(cfg *evaluation.ISEConfig) { cfg.ReceiveTimeout = 10 * time.Second })

	session := svc.NewSession()
	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := session.SendConfig("四是四"); err != nil {
		t.Fatalf("SendConfig err: %v", err)
	}
	if err := session.StreamAudio(ctx, make([]byte, 1280), 1280); err != nil {
		t.Fatalf("StreamAudio err: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		session.Close()
	}()

	start := time.Now()
	_, err := session.ReceiveResults(ctx, nil)
	if !evaluation.IsKind(err, evaluation.KindCanceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("close did not unblock receive, took %s", elapsed)
	}
}

func TestCloseUnblocksPacedStream(t *testing.T) {
	fake := newFakeISE(t)
	svc := fake.service(t, func(cfg *evaluation.ISEConfig) { cfg.Pacing = 5 * time.Second })

	session := svc.NewSession()
	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := session.SendConfig("四是四"); err != nil {
		t.Fatalf("SendConfig err: %v", err)
	}

	time.AfterFunc(100*time.Millisecond, func() { session.Close() })

	start := time.Now()
	err := session.StreamAudio(ctx, make([]byte, 1280*4), 1280)
	if !evaluation.IsKind(err, evaluation.KindCanceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("close did not unblock stream, took %s", elapsed)
	}
	if session.State() != StateClosed {
		t.Fatalf("state = %s, want closed", session.State())
	}
}

func TestReceiveResultsContextCancel(t *testing.T) {
	fake := newFakeISE(t)
	fake.hold = true
	svc := fake.service(t, func(cfg *evaluation.ISEConfig) { cfg.ReceiveTimeout = 10 * time.Second })

	session := svc.NewSession()
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := session.SendConfig("四是四"); err != nil {
		t.Fatalf("SendConfig err: %v", err)
	}
	if err := session.StreamAudio(context.Background(), make([]byte, 1280), 1280); err != nil {
		t.Fatalf("StreamAudio err: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := session.ReceiveResults(ctx, nil)
	if !evaluation.IsKind(err, evaluation.KindCanceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

func TestConnectHandshakeRejected(t *testing.T) {
	fake := newFakeISE(t)
	fake.reject = http.StatusUnauthorized
	svc := fake.service(t)

	_, err := svc.Evaluate(context.Background(), "四是四", make([]byte, 1280), nil)
	if !evaluation.IsKind(err, evaluation.KindAuth) {
		t.Fatalf("err = %v, want auth", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "secret") || strings.Contains(msg, "signature") || strings.Contains(msg, "authorization") {
		t.Fatalf("error leaks credentials: %s", msg)
	}
}

func TestConnectUnreachable(t *testing.T) {
	fake := newFakeISE(t)
	svc := fake.service(t, func(cfg *evaluation.ISEConfig) { cfg.Host = "127.0.0.1:1" })

	_, err := svc.Evaluate(context.Background(), "四是四", make([]byte, 1280), nil)
	if !evaluation.IsKind(err, evaluation.KindConnect) {
		t.Fatalf("err = %v, want connect", err)
	}
	if strings.Contains(err.Error(), "authorization") {
		t.Fatalf("error leaks signed url: %s", err)
	}
	if !IsRetryableError(err) {
		t.Fatalf("transport failure should be retryable")
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "dial failure", err: &evaluation.Error{Kind: evaluation.KindConnect, Op: "connect ws://ise/v2/open-ise", Err: errors.New("connection refused")}, want: true},
		{name: "wrapped dial failure", err: fmt.Errorf("evaluate: %w", evaluation.NewError(evaluation.KindConnect, "connect", errors.New("i/o timeout"))), want: true},
		{name: "handshake status", err: &evaluation.Error{Kind: evaluation.KindConnect, Op: "connect ws://ise/v2/open-ise", Code: http.StatusBadGateway}, want: false},
		{name: "auth", err: &evaluation.Error{Kind: evaluation.KindAuth, Op: "connect ws://ise/v2/open-ise", Code: http.StatusUnauthorized}, want: false},
		{name: "dropped while receiving", err: evaluation.NewError(evaluation.KindConnect, "receive results", errors.New("unexpected EOF")), want: false},
		{name: "upstream code while receiving", err: &evaluation.Error{Kind: evaluation.KindConnect, Op: "receive results", Code: 10163}, want: false},
		{name: "raw close", err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryableError(tc.err); got != tc.want {
				t.Fatalf("IsRetryableError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestSessionStateOrdering(t *testing.T) {
	fake := newFakeISE(t)
	svc := fake.service(t)
	session := svc.NewSession()

	if err := session.SendConfig("四是四"); !errors.Is(err, evaluation.ErrInvalidState) {
		t.Fatalf("SendConfig before connect: %v", err)
	}
	if err := session.StreamAudio(context.Background(), nil, 0); !evaluation.IsKind(err, evaluation.KindState) {
		t.Fatalf("StreamAudio before config: %v", err)
	}
	if _, err := session.ReceiveResults(context.Background(), nil); !evaluation.IsKind(err, evaluation.KindState) {
		t.Fatalf("ReceiveResults before audio: %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("first Close err: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close err: %v", err)
	}
	if session.State() != StateClosed {
		t.Fatalf("state = %s, want closed", session.State())
	}
	if err := session.Connect(context.Background()); !errors.Is(err, evaluation.ErrSessionClosed) {
		t.Fatalf("Connect after close: %v", err)
	}
	if svc.ActiveSessions() != 0 {
		t.Fatalf("closed session still registered")
	}
}

func TestNewServiceRequiresCredentials(t *testing.T) {
	cfg := evaluation.DefaultISEConfig()
	cfg.AppID = "app"
	cfg.APIKey = "key"

	if _, err := NewService(&cfg, nil); !errors.Is(err, evaluation.ErrCredentialsMissing) {
		t.Fatalf("err = %v, want ErrCredentialsMissing", err)
	}
}
