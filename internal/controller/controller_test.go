package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/actions"
	"github.com/mbilal031/HID-PICO-OCR/internal/capture"
	"github.com/mbilal031/HID-PICO-OCR/internal/hid"
	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/packet"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

type scripted struct {
	sym  vision.Symbol
	text string
	err  error
}

func see(sym vision.Symbol) scripted { return scripted{sym: sym} }

type fakeCapture struct {
	fail  int
	size  image.Point
	kinds []capture.RegionKind
}

func (f *fakeCapture) With(ctx context.Context, kind capture.RegionKind, fn func(capture.Frame) error) error {
	f.kinds = append(f.kinds, kind)
	if f.fail > 0 {
		f.fail--
		return fmt.Errorf("%w: no signal", capture.ErrCaptureUnavailable)
	}
	size := f.size
	if size == (image.Point{}) {
		size = image.Pt(1920, 1080)
	}
	region := image.Rect(0, 0, size.X, size.Y)
	if kind == capture.Cropped {
		region = capture.DefaultCrop.Rect(region)
	}
	return fn(capture.Frame{
		Image:  image.NewGray(image.Rect(0, 0, region.Dx(), region.Dy())),
		Kind:   kind,
		Region: region,
		Size:   size,
	})
}

// fakeClassifier replays a script and cancels the run once it is exhausted.
type fakeClassifier struct {
	script []scripted
	calls  int
	cancel context.CancelFunc

	match     vision.Match
	found     bool
	locateErr error
	located   []string
}

func (f *fakeClassifier) Classify(ctx context.Context, img image.Image) (vision.Result, error) {
	if f.calls >= len(f.script) {
		f.cancel()
		return vision.Result{}, context.Canceled
	}
	s := f.script[f.calls]
	f.calls++
	if s.err != nil {
		return vision.Result{}, s.err
	}
	return vision.Result{Symbol: s.sym, Text: s.text}, nil
}

func (f *fakeClassifier) Locate(ctx context.Context, img image.Image, phrase string) (vision.Match, bool, error) {
	f.located = append(f.located, phrase)
	return f.match, f.found, f.locateErr
}

// fakeUpdates replays results, repeating the last one.
type fakeUpdates struct {
	results []vision.Result
	calls   int
}

func (f *fakeUpdates) Classify(ctx context.Context, img image.Image) (vision.Result, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i], nil
}

type fakeActions struct {
	calls    []string
	loginErr error
}

func (f *fakeActions) Login(u, p string) error {
	f.calls = append(f.calls, "login "+u)
	return f.loginErr
}

func (f *fakeActions) SubmitGuard(code string) error {
	f.calls = append(f.calls, "guard "+code)
	return nil
}

func (f *fakeActions) ClearField(n int) error {
	f.calls = append(f.calls, fmt.Sprintf("clear %d", n))
	return nil
}

func (f *fakeActions) Launch() error {
	f.calls = append(f.calls, "launch")
	return nil
}

func (f *fakeActions) ClickAt(pt image.Point) error {
	f.calls = append(f.calls, fmt.Sprintf("click %d,%d", pt.X, pt.Y))
	return nil
}

func (f *fakeActions) ClickVia(pt image.Point) error {
	f.calls = append(f.calls, fmt.Sprintf("via %d,%d", pt.X, pt.Y))
	return nil
}

type codeFunc func() string

func (f codeFunc) Current() string { return f() }

// sequence yields codes[i] on the i-th call and then repeats the last.
func sequence(codes ...string) codeFunc {
	i := 0
	return func() string {
		c := codes[min(i, len(codes)-1)]
		i++
		return c
	}
}

type fakeRecorder struct {
	transitions []string
	final       string
	outcome     string
	reason      string
	err         error
}

func (f *fakeRecorder) RecordTransition(ctx context.Context, from, to, symbol string, at time.Time) error {
	f.transitions = append(f.transitions, from+">"+to)
	return f.err
}

func (f *fakeRecorder) FinishRun(ctx context.Context, finalState, outcome, reason string, at time.Time) error {
	f.final, f.outcome, f.reason = finalState, outcome, reason
	return f.err
}

type fakeCleaner struct{ calls int }

func (f *fakeCleaner) Clear() (int, error) {
	f.calls++
	return 0, nil
}

type harness struct {
	c     *Controller
	cap   *fakeCapture
	cls   *fakeClassifier
	act   *fakeActions
	rec   *fakeRecorder
	clean *fakeCleaner
	clock time.Time
	slept []time.Duration
	ctx   context.Context
}

func newHarness(t *testing.T, codes CodeSource, script ...scripted) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		cap:   &fakeCapture{},
		cls:   &fakeClassifier{script: script, cancel: cancel},
		act:   &fakeActions{},
		rec:   &fakeRecorder{},
		clean: &fakeCleaner{},
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		ctx:   ctx,
	}
	if codes == nil {
		codes = sequence("AAAAA")
	}
	cfg := DefaultConfig()
	cfg.PostLaunchWatch = time.Second

	h.c = New(Deps{
		Capture:    h.cap,
		Classifier: h.cls,
		Actions:    h.act,
		Codes:      codes,
		Recorder:   h.rec,
		Cleaner:    h.clean,
	}, Credentials{Username: "bob", Password: "hunter2"}, cfg, log.Nop())
	h.c.now = func() time.Time { return h.clock }
	h.c.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		h.clock = h.clock.Add(d)
		return ctx.Err()
	}
	return h
}

func (h *harness) run() error { return h.c.Run(h.ctx) }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRejectedGuardIsRepairedBeforeLaunch(t *testing.T) {
	h := newHarness(t, sequence("AAAAA", "AAAAA", "BBBBB"),
		see(vision.LoginScreen),
		see(vision.GuardPrompt),
		see(vision.InvalidGuard),
		see(vision.GuardPrompt),
		see(vision.InvalidGuard),
		see(vision.None),
		see(vision.None),
	)
	if err := h.run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"login bob", "guard AAAAA", "clear 6", "guard BBBBB", "launch"}
	if !equalStrings(h.act.calls, want) {
		t.Errorf("Unexpected actions:\n got %v\nwant %v", h.act.calls, want)
	}
	wantTransitions := []string{
		"AwaitingLogin>CredentialsEntered",
		"CredentialsEntered>GuardSubmitted",
		"GuardSubmitted>AwaitingGuard",
		"AwaitingGuard>GuardSubmitted",
		"GuardSubmitted>Launching",
		"Launching>AwaitingPostLaunchPopup",
		"AwaitingPostLaunchPopup>Stopped",
	}
	if !equalStrings(h.rec.transitions, wantTransitions) {
		t.Errorf("Unexpected transitions:\n got %v\nwant %v", h.rec.transitions, wantTransitions)
	}
	if h.rec.outcome != OutcomeSucceeded || h.rec.final != "Stopped" {
		t.Errorf("Expected succeeded in Stopped, got %s in %s", h.rec.outcome, h.rec.final)
	}
	if h.clean.calls == 0 {
		t.Error("Expected artifacts to be cleared on exit")
	}
}

func TestGuardPromptDoesNotLaunchWhileRepairPending(t *testing.T) {
	h := newHarness(t, sequence("AAAAA"),
		see(vision.GuardPrompt),
		see(vision.InvalidGuard),
		see(vision.None),
		see(vision.GuardPrompt),
	)
	err := h.run()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the run to be interrupted, got %v", err)
	}
	for _, c := range h.act.calls {
		if c == "launch" {
			t.Fatalf("Launched while the rejected code was still current: %v", h.act.calls)
		}
	}
	if h.c.State() != AwaitingGuard {
		t.Errorf("Expected AwaitingGuard, got %s", h.c.State())
	}
	if h.rec.outcome != OutcomeInterrupted {
		t.Errorf("Expected interrupted outcome, got %s", h.rec.outcome)
	}
}

func TestGuardRetriesAreBounded(t *testing.T) {
	n := 0
	codes := codeFunc(func() string {
		n++
		return fmt.Sprintf("CODE%d", n)
	})
	h := newHarness(t, codes,
		see(vision.GuardPrompt),
		see(vision.InvalidGuard),
		see(vision.InvalidGuard),
		see(vision.InvalidGuard),
		see(vision.InvalidGuard),
		see(vision.InvalidGuard),
		see(vision.InvalidGuard),
		see(vision.InvalidGuard),
		see(vision.InvalidGuard),
	)
	h.c.cfg.GuardRetries = 2

	err := h.run()
	if !errors.Is(err, ErrGuardRejected) {
		t.Fatalf("Expected ErrGuardRejected, got %v", err)
	}
	var se *StopError
	if !errors.As(err, &se) || se.State != GuardSubmitted {
		t.Errorf("Expected a StopError from GuardSubmitted, got %#v", err)
	}

	clears, guards := 0, 0
	for _, c := range h.act.calls {
		switch {
		case strings.HasPrefix(c, "clear"):
			clears++
		case strings.HasPrefix(c, "guard"):
			guards++
		}
	}
	if guards != 3 || clears != 3 {
		t.Errorf("Expected 3 submissions and 3 clears, got %d and %d: %v", guards, clears, h.act.calls)
	}
	if h.rec.outcome != OutcomeGuardRejected {
		t.Errorf("Expected guard_rejected outcome, got %s", h.rec.outcome)
	}
}

func TestInvalidLoginStops(t *testing.T) {
	tests := []struct {
		name   string
		script []scripted
		state  State
	}{
		{"before login", []scripted{see(vision.InvalidLogin)}, AwaitingLogin},
		{"after credentials", []scripted{see(vision.LoginScreen), see(vision.InvalidLogin)}, CredentialsEntered},
		{"after guard", []scripted{see(vision.GuardPrompt), see(vision.InvalidLogin)}, GuardSubmitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, tt.script...)
			err := h.run()
			var se *StopError
			if !errors.As(err, &se) || !errors.Is(err, ErrCredentialsRejected) {
				t.Fatalf("Expected credentials StopError, got %v", err)
			}
			if se.State != tt.state {
				t.Errorf("Expected stop from %s, got %s", tt.state, se.State)
			}
			if se.Reason == "" {
				t.Error("Expected a user-facing reason")
			}
			if h.rec.outcome != OutcomeCredentialsRejected {
				t.Errorf("Expected credentials_rejected outcome, got %s", h.rec.outcome)
			}
		})
	}
}

func TestLoggedInSkipsLogin(t *testing.T) {
	h := newHarness(t, nil, see(vision.LoggedIn), see(vision.None))
	if err := h.run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !equalStrings(h.act.calls, []string{"launch"}) {
		t.Errorf("Expected only a launch, got %v", h.act.calls)
	}
	last := h.cap.kinds[len(h.cap.kinds)-1]
	if last != capture.Full {
		t.Errorf("Expected full frames after launch, got %s", last)
	}
	if h.cap.kinds[0] != capture.Cropped {
		t.Errorf("Expected cropped frames before launch, got %s", h.cap.kinds[0])
	}
}

func TestDefaultWatchRunsUntilInterrupted(t *testing.T) {
	script := []scripted{see(vision.LoggedIn)}
	for i := 0; i < 600; i++ {
		script = append(script, see(vision.None))
	}
	h := newHarness(t, nil, script...)
	h.c.cfg.PostLaunchWatch = DefaultConfig().PostLaunchWatch

	if err := h.run(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the watch to last until interruption, got %v", err)
	}
	if h.cls.calls != len(script) {
		t.Errorf("Expected every frame to be watched, got %d of %d", h.cls.calls, len(script))
	}
	if h.c.State() != AwaitingPostLaunchPopup {
		t.Errorf("Expected to still be watching, got %s", h.c.State())
	}
	if h.rec.outcome != OutcomeInterrupted {
		t.Errorf("Expected outcome %q, got %q", OutcomeInterrupted, h.rec.outcome)
	}
}

func TestCloudSyncClick(t *testing.T) {
	tests := []struct {
		name  string
		found bool
		want  string
	}{
		{"located", true, "click 150,75"},
		{"fallback", false, "via 755,480"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, see(vision.LoggedIn), see(vision.CloudSync), see(vision.None))
			h.c.cfg.PostLaunchWatch = 2 * time.Second
			h.cap.size = image.Pt(1280, 720)
			h.cls.found = tt.found
			h.cls.match = vision.Match{Box: image.Rect(80, 40, 120, 60), Center: image.Pt(100, 50)}

			if err := h.run(); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			want := []string{"launch", tt.want}
			if !equalStrings(h.act.calls, want) {
				t.Errorf("Unexpected actions:\n got %v\nwant %v", h.act.calls, want)
			}
			if len(h.cls.located) != 1 || h.cls.located[0] != "Play Anyway" {
				t.Errorf("Expected one Play Anyway lookup, got %v", h.cls.located)
			}
			if h.clean.calls < 2 {
				t.Errorf("Expected artifacts cleared after the click and on exit, got %d", h.clean.calls)
			}
		})
	}
}

func TestCloudSyncBeforeLoginIsHandled(t *testing.T) {
	h := newHarness(t, nil, see(vision.CloudSync))
	h.cls.found = true
	h.cls.match = vision.Match{Center: image.Pt(10, 20)}

	if err := h.run(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected interruption after the script, got %v", err)
	}
	region := capture.DefaultCrop.Rect(image.Rect(0, 0, 1920, 1080))
	want := fmt.Sprintf("click %d,%d", region.Min.X+10, region.Min.Y+20)
	if !equalStrings(h.act.calls, []string{want}) {
		t.Errorf("Expected cropped point mapped to the screen, got %v want %s", h.act.calls, want)
	}
	if h.c.State() != AwaitingLogin {
		t.Errorf("Expected to stay in AwaitingLogin, got %s", h.c.State())
	}
}

func TestCloudSyncOnRelativeBridge(t *testing.T) {
	screen := hid.Screen{Width: 1920, Height: 1080}
	region := capture.DefaultCrop.Rect(screen.Bounds())
	tests := []struct {
		name  string
		found bool
		want  image.Point
	}{
		{"located", true, region.Min.Add(image.Pt(10, 20))},
		{"fallback", false, image.Pt(755, 480)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, see(vision.CloudSync))
			h.cls.found = tt.found
			h.cls.match = vision.Match{Center: image.Pt(10, 20)}

			var buf bytes.Buffer
			dev := hid.New(&buf, hid.Config{MouseMode: hid.MouseRelative, Screen: screen}, log.Nop())
			dev.SetSleep(func(time.Duration) {})
			h.c.deps.Actions = actions.New(dev, actions.Config{}, log.Nop())

			if err := h.run(); !errors.Is(err, context.Canceled) {
				t.Fatalf("Expected the popup to be handled and the run interrupted, got %v", err)
			}

			// Replay the reports from the far corner; homing must make the
			// start position irrelevant.
			pos := image.Pt(screen.Width-1, screen.Height-1)
			var pressed []image.Point
			dec := packet.NewDecoder(&buf)
			for {
				f, err := dec.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Fatalf("Decoding reports failed: %v", err)
				}
				pos.X = min(max(pos.X+int(int8(f.Payload[1])), 0), screen.Width-1)
				pos.Y = min(max(pos.Y+int(int8(f.Payload[2])), 0), screen.Height-1)
				if f.Payload[0]&hid.ButtonLeft != 0 {
					pressed = append(pressed, pos)
				}
			}
			if len(pressed) != 1 || pressed[0] != tt.want {
				t.Errorf("Expected one press at %v, got %v", tt.want, pressed)
			}
			if dev.Stats().Failed != 0 {
				t.Errorf("Expected no failed sends, got %+v", dev.Stats())
			}
		})
	}
}

func TestUpdateWait(t *testing.T) {
	updating := vision.Result{Symbol: vision.UpdateRequired, Text: "updating steam"}

	t.Run("times out", func(t *testing.T) {
		h := newHarness(t, nil, see(vision.UpdateRequired))
		upd := &fakeUpdates{results: []vision.Result{updating}}
		h.c.deps.UpdateClassifier = upd
		h.c.cfg.UpdateTimeout = 20 * time.Second
		waits, done := 0, 0
		h.c.SetHooks(Hooks{
			OnUpdateWait: func(elapsed, timeout time.Duration) { waits++ },
			OnUpdateDone: func(elapsed time.Duration, cleared bool) {
				done++
				if cleared || elapsed != 20*time.Second {
					t.Errorf("Expected an uncleared wait of 20s, got %v cleared=%v", elapsed, cleared)
				}
			},
		})

		err := h.run()
		if !errors.Is(err, ErrUpdateTimeout) {
			t.Fatalf("Expected ErrUpdateTimeout, got %v", err)
		}
		if upd.calls != 4 || waits != 4 || done != 1 {
			t.Errorf("Expected 4 polls over 20s, got %d polls, %d waits, %d done", upd.calls, waits, done)
		}
		for _, d := range h.slept {
			if d != 5*time.Second {
				t.Errorf("Expected only update poll sleeps, got %v", d)
			}
		}
		if h.rec.outcome != OutcomeUpdateTimeout {
			t.Errorf("Expected update_timeout outcome, got %s", h.rec.outcome)
		}
	})

	t.Run("clears", func(t *testing.T) {
		h := newHarness(t, nil, see(vision.UpdateRequired), see(vision.LoginScreen))
		upd := &fakeUpdates{results: []vision.Result{
			updating,
			{Symbol: vision.None, Text: "updating 80%"},
			{Symbol: vision.None, Text: "sign in"},
		}}
		h.c.deps.UpdateClassifier = upd

		if err := h.run(); !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected interruption after the script, got %v", err)
		}
		if upd.calls != 3 {
			t.Errorf("Expected 3 update polls, got %d", upd.calls)
		}
		if !equalStrings(h.act.calls, []string{"login bob"}) {
			t.Errorf("Expected login after the update, got %v", h.act.calls)
		}
		full := 0
		for _, k := range h.cap.kinds {
			if k == capture.Full {
				full++
			}
		}
		if full != 3 {
			t.Errorf("Expected update polls on full frames, got %d", full)
		}
	})
}

func TestTransientFailuresAreAbsorbed(t *testing.T) {
	h := newHarness(t, nil,
		scripted{err: errors.New("tesseract crashed")},
		see(vision.LoginScreen),
	)
	h.cap.fail = 2

	if err := h.run(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected interruption after the script, got %v", err)
	}
	if !equalStrings(h.act.calls, []string{"login bob"}) {
		t.Errorf("Expected login after transient failures, got %v", h.act.calls)
	}
	if len(h.slept) < 4 {
		t.Errorf("Expected a poll sleep after each skipped frame, got %v", h.slept)
	}
	for _, d := range h.slept {
		if d != 200*time.Millisecond {
			t.Errorf("Expected login poll interval, got %v", d)
		}
	}
}

func TestSendFailureEndsRun(t *testing.T) {
	h := newHarness(t, nil, see(vision.LoginScreen))
	h.act.loginErr = errors.New("typing username: encode failed")

	err := h.run()
	if err == nil || !strings.Contains(err.Error(), "encode failed") {
		t.Fatalf("Expected the send error, got %v", err)
	}
	if h.rec.outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", h.rec.outcome)
	}
	if h.clean.calls == 0 {
		t.Error("Expected artifacts to be cleared on the error path")
	}
}

func TestJournalErrorsAreNotFatal(t *testing.T) {
	h := newHarness(t, nil, see(vision.LoggedIn), see(vision.None))
	h.rec.err = errors.New("connection refused")
	if err := h.run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h.rec.transitions) != 3 {
		t.Errorf("Expected 3 attempted transition writes, got %d", len(h.rec.transitions))
	}
}

func TestToScreen(t *testing.T) {
	c := New(Deps{}, Credentials{}, Config{Screen: hid.Screen{Width: 1920, Height: 1080}}, nil)
	tests := []struct {
		pt, size, want image.Point
	}{
		{image.Pt(100, 50), image.Pt(1920, 1080), image.Pt(100, 50)},
		{image.Pt(100, 50), image.Pt(1280, 720), image.Pt(150, 75)},
		{image.Pt(100, 50), image.Point{}, image.Pt(100, 50)},
	}
	for _, tt := range tests {
		if got := c.toScreen(tt.pt, tt.size); got != tt.want {
			t.Errorf("toScreen(%v, %v) = %v, want %v", tt.pt, tt.size, got, tt.want)
		}
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSucceeded},
		{context.Canceled, OutcomeInterrupted},
		{&StopError{Err: ErrCredentialsRejected}, OutcomeCredentialsRejected},
		{&StopError{Err: ErrGuardRejected}, OutcomeGuardRejected},
		{&StopError{Err: ErrUpdateTimeout}, OutcomeUpdateTimeout},
		{errors.New("boom"), OutcomeFailed},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
