// Package controller runs the closed perception-action loop: capture a frame,
// classify it, act on the symbol, sleep, repeat. It is single-threaded by
// construction; every device write happens on the goroutine calling Run.
package controller

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/capture"
	"github.com/mbilal031/HID-PICO-OCR/internal/hid"
	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

// Capturer delivers one scoped frame per call.
type Capturer interface {
	With(ctx context.Context, kind capture.RegionKind, fn func(capture.Frame) error) error
}

// FrameClassifier maps an image to a classification.
type FrameClassifier interface {
	Classify(ctx context.Context, img image.Image) (vision.Result, error)
}

// Classifier also locates phrases for click targets.
type Classifier interface {
	FrameClassifier
	Locate(ctx context.Context, img image.Image, phrase string) (vision.Match, bool, error)
}

// Actions is the subset of host sequences the loop drives.
type Actions interface {
	Login(username, password string) error
	SubmitGuard(code string) error
	ClearField(n int) error
	Launch() error
	ClickAt(pt image.Point) error
	ClickVia(pt image.Point) error
}

// CodeSource yields the guard code for the current time step.
type CodeSource interface {
	Current() string
}

// Recorder journals transitions and the final outcome.
type Recorder interface {
	RecordTransition(ctx context.Context, from, to, symbol string, at time.Time) error
	FinishRun(ctx context.Context, finalState, outcome, reason string, at time.Time) error
}

// Cleaner removes transient capture artifacts.
type Cleaner interface {
	Clear() (int, error)
}

// Credentials are the account secrets typed into the login form.
type Credentials struct {
	Username string
	Password string
}

// Config holds the loop's timing and retry bounds.
type Config struct {
	PollInterval       time.Duration
	PopupPollInterval  time.Duration
	UpdatePollInterval time.Duration
	UpdateTimeout      time.Duration
	// PostLaunchWatch ends the run this long after launching; 0 watches
	// until the context is cancelled.
	PostLaunchWatch time.Duration

	GuardRetries      int
	GuardClearPresses int

	PlayAnywayPhrase   string
	PlayAnywayFallback image.Point

	// Screen is the controlled display; frame coordinates are scaled to it
	// when the capture resolution differs.
	Screen hid.Screen
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:       200 * time.Millisecond,
		PopupPollInterval:  time.Second,
		UpdatePollInterval: 5 * time.Second,
		UpdateTimeout:      20 * time.Minute,
		GuardRetries:       3,
		GuardClearPresses:  6,
		PlayAnywayPhrase:   "Play Anyway",
		PlayAnywayFallback: image.Pt(755, 480),
		Screen:             hid.Screen{Width: 1920, Height: 1080},
	}
}

// Deps are the collaborators the loop drives. Recorder, Cleaner and
// UpdateClassifier are optional.
type Deps struct {
	Capture    Capturer
	Classifier Classifier
	Actions    Actions
	Codes      CodeSource
	Recorder   Recorder
	Cleaner    Cleaner
	// UpdateClassifier is used while waiting out an update, typically a
	// vision.Memo so an unchanged progress dialog is not re-read every poll.
	UpdateClassifier FrameClassifier
}

// Hooks observe the loop. All fields are optional.
type Hooks struct {
	OnTransition func(from, to State, sym vision.Symbol)
	OnUpdateWait func(elapsed, timeout time.Duration)
	// OnUpdateDone fires once per wait; cleared is false on timeout.
	OnUpdateDone func(elapsed time.Duration, cleared bool)
}

// Controller is the login/launch state machine.
type Controller struct {
	cfg   Config
	deps  Deps
	creds Credentials
	log   *log.Logger
	hooks Hooks

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state         State
	guardRepairs  int
	lastCode      string
	rejectedCode  string
	repairPending bool
	waitUpdate    bool
	launchedAt    time.Time
}

// New builds a Controller in AwaitingLogin.
func New(deps Deps, creds Credentials, cfg Config, logger *log.Logger) *Controller {
	if deps.UpdateClassifier == nil {
		deps.UpdateClassifier = deps.Classifier
	}
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		creds: creds,
		log:   logger.Named("controller"),
		now:   time.Now,
		sleep: sleepCtx,
		state: AwaitingLogin,
	}
}

// SetHooks installs observers.
func (c *Controller) SetHooks(h Hooks) { c.hooks = h }

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Run drives the loop until a terminal condition. It returns nil after a
// clean finish, ctx.Err() when interrupted, a *StopError for terminal
// rejections and timeouts, and any other error for failures on the send path.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer c.clearArtifacts()
	defer func() { c.finish(err) }()

	c.log.Info("waiting for login screen", nil)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch c.state {
		case Stopped:
			return nil
		case Launching:
			if err := c.deps.Actions.Launch(); err != nil {
				return fmt.Errorf("launching: %w", err)
			}
			c.launchedAt = c.now()
			c.transition(ctx, AwaitingPostLaunchPopup, vision.None)
			c.log.Info("watching for post-launch popups", nil)
			continue
		case AwaitingPostLaunchPopup:
			if c.cfg.PostLaunchWatch > 0 && c.now().Sub(c.launchedAt) >= c.cfg.PostLaunchWatch {
				c.log.Info("post-launch watch elapsed", map[string]any{"watch": c.cfg.PostLaunchWatch.String()})
				c.transition(ctx, Stopped, vision.None)
				return nil
			}
		}

		if err := c.tick(ctx); err != nil {
			return err
		}
		if c.waitUpdate {
			c.waitUpdate = false
			if err := c.awaitUpdate(ctx); err != nil {
				return err
			}
			continue
		}
		if c.state == Stopped || c.state == Launching {
			continue
		}
		if err := c.sleep(ctx, c.interval()); err != nil {
			return err
		}
	}
}

func (c *Controller) interval() time.Duration {
	if c.state == AwaitingPostLaunchPopup {
		return c.cfg.PopupPollInterval
	}
	return c.cfg.PollInterval
}

func (c *Controller) regionKind() capture.RegionKind {
	if c.state == AwaitingPostLaunchPopup {
		return capture.Full
	}
	return capture.Cropped
}

// tick captures and handles one frame. Capture and recognition failures are
// absorbed; only terminal and send-path errors are returned.
func (c *Controller) tick(ctx context.Context) error {
	err := c.deps.Capture.With(ctx, c.regionKind(), func(f capture.Frame) error {
		res, err := c.deps.Classifier.Classify(ctx, f.Image)
		if err != nil {
			return &transientError{err}
		}
		c.log.Debug("classified", map[string]any{"state": c.state.String(), "symbol": res.Symbol.String()})
		return c.step(ctx, f, res)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var te *transientError
	if errors.Is(err, capture.ErrCaptureUnavailable) || errors.As(err, &te) {
		c.log.Warn("frame skipped", map[string]any{"state": c.state.String(), "error": err})
		return nil
	}
	return err
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// step evaluates the transition table for one classified frame.
func (c *Controller) step(ctx context.Context, f capture.Frame, res vision.Result) error {
	sym := res.Symbol
	if sym == vision.InvalidLogin {
		return c.stop(ctx, sym, ErrCredentialsRejected, "wrong username or password")
	}

	switch c.state {
	case AwaitingLogin:
		switch sym {
		case vision.LoginScreen:
			c.log.Info("login screen detected, entering credentials", nil)
			if err := c.deps.Actions.Login(c.creds.Username, c.creds.Password); err != nil {
				return err
			}
			c.transition(ctx, CredentialsEntered, sym)
		case vision.GuardPrompt:
			return c.submitGuard(ctx, sym)
		case vision.InvalidGuard:
			if err := c.deps.Actions.ClearField(c.cfg.GuardClearPresses); err != nil {
				return err
			}
			return c.stop(ctx, sym, ErrGuardRejected, "guard code rejected before login")
		case vision.LoggedIn:
			c.log.Info("already logged in, skipping login", nil)
			c.transition(ctx, Launching, sym)
		case vision.CloudSync, vision.UpdateRequired:
			return c.handlePopup(ctx, f, res)
		}

	case CredentialsEntered:
		switch sym {
		case vision.GuardPrompt:
			return c.submitGuard(ctx, sym)
		case vision.LoggedIn:
			c.log.Info("logged in without guard prompt", nil)
			c.transition(ctx, Launching, sym)
		}

	case GuardSubmitted, AwaitingGuard:
		switch sym {
		case vision.InvalidGuard:
			return c.repairGuard(ctx, sym)
		case vision.GuardPrompt:
			if c.repairPending {
				return c.submitGuard(ctx, sym)
			}
			// The prompt often lingers for a poll or two after Enter.
		default:
			if (c.state == AwaitingGuard || c.repairPending) && sym != vision.LoggedIn {
				return nil
			}
			c.log.Info("guard accepted", map[string]any{"symbol": sym.String()})
			c.transition(ctx, Launching, sym)
		}

	case AwaitingPostLaunchPopup:
		if sym.IsPopup() {
			return c.handlePopup(ctx, f, res)
		}
	}
	return nil
}

// submitGuard types the current code. After a rejection it waits in
// AwaitingGuard until the generator moves past the rejected code.
func (c *Controller) submitGuard(ctx context.Context, sym vision.Symbol) error {
	code := c.deps.Codes.Current()
	if c.repairPending && code == c.rejectedCode {
		if c.state != AwaitingGuard {
			c.log.Info("waiting for the next guard code", nil)
			c.transition(ctx, AwaitingGuard, sym)
		}
		return nil
	}
	if err := c.deps.Actions.SubmitGuard(code); err != nil {
		return err
	}
	c.log.Info("guard code submitted", map[string]any{"attempt": c.guardRepairs + 1})
	c.lastCode = code
	c.repairPending = false
	if c.state != GuardSubmitted {
		c.transition(ctx, GuardSubmitted, sym)
	}
	return nil
}

// repairGuard clears a rejected code. Each submitted code is repaired once;
// a rejection that persists across polls retries with a fresh code instead.
func (c *Controller) repairGuard(ctx context.Context, sym vision.Symbol) error {
	if c.repairPending {
		return c.submitGuard(ctx, sym)
	}
	c.guardRepairs++
	c.log.Warn("guard code rejected", map[string]any{"repairs": c.guardRepairs, "limit": c.cfg.GuardRetries})
	if err := c.deps.Actions.ClearField(c.cfg.GuardClearPresses); err != nil {
		return err
	}
	if c.guardRepairs > c.cfg.GuardRetries {
		return c.stop(ctx, sym, ErrGuardRejected,
			fmt.Sprintf("guard code rejected %d times", c.guardRepairs))
	}
	c.rejectedCode = c.lastCode
	c.repairPending = true
	return nil
}

// handlePopup dismisses or waits out a dialog.
func (c *Controller) handlePopup(ctx context.Context, f capture.Frame, res vision.Result) error {
	switch res.Symbol {
	case vision.CloudSync:
		return c.playAnyway(ctx, f)
	case vision.UpdateRequired:
		c.log.Info("update in progress, waiting", map[string]any{"timeout": c.cfg.UpdateTimeout.String()})
		c.waitUpdate = true
	}
	return nil
}

func (c *Controller) playAnyway(ctx context.Context, f capture.Frame) error {
	m, ok, err := c.deps.Classifier.Locate(ctx, f.Image, c.cfg.PlayAnywayPhrase)
	if err != nil {
		c.log.Warn("locating dialog button failed", map[string]any{"error": err})
	}
	if ok {
		pt := c.toScreen(f.ToFull(m.Center), f.Size)
		c.log.Info("clicking located button", map[string]any{"phrase": c.cfg.PlayAnywayPhrase, "x": pt.X, "y": pt.Y})
		err = c.deps.Actions.ClickAt(pt)
	} else {
		pt := c.cfg.PlayAnywayFallback
		c.log.Info("button not located, clicking fallback point", map[string]any{"x": pt.X, "y": pt.Y})
		err = c.deps.Actions.ClickVia(pt)
	}
	if err != nil {
		return err
	}
	c.clearArtifacts()
	return nil
}

// awaitUpdate polls full frames until the update dialog is gone.
func (c *Controller) awaitUpdate(ctx context.Context) error {
	start := c.now()
	for {
		elapsed := c.now().Sub(start)
		if elapsed >= c.cfg.UpdateTimeout {
			c.updateDone(elapsed, false)
			return c.stop(ctx, vision.UpdateRequired, ErrUpdateTimeout,
				fmt.Sprintf("update still running after %s", c.cfg.UpdateTimeout))
		}
		if c.hooks.OnUpdateWait != nil {
			c.hooks.OnUpdateWait(elapsed, c.cfg.UpdateTimeout)
		}

		cleared := false
		err := c.deps.Capture.With(ctx, capture.Full, func(f capture.Frame) error {
			res, err := c.deps.UpdateClassifier.Classify(ctx, f.Image)
			if err != nil {
				return &transientError{err}
			}
			cleared = !vision.UpdateInProgress(res.Text, res.Symbol)
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.log.Warn("update poll skipped", map[string]any{"error": err})
		}
		if cleared {
			elapsed = c.now().Sub(start)
			c.log.Info("update finished", map[string]any{"elapsed": elapsed.String()})
			c.updateDone(elapsed, true)
			return nil
		}
		if err := c.sleep(ctx, c.cfg.UpdatePollInterval); err != nil {
			return err
		}
	}
}

func (c *Controller) updateDone(elapsed time.Duration, cleared bool) {
	if c.hooks.OnUpdateDone != nil {
		c.hooks.OnUpdateDone(elapsed, cleared)
	}
}

func (c *Controller) toScreen(pt image.Point, size image.Point) image.Point {
	sw, sh := c.cfg.Screen.Width, c.cfg.Screen.Height
	if size.X <= 0 || size.Y <= 0 || sw <= 0 || sh <= 0 || (size.X == sw && size.Y == sh) {
		return pt
	}
	return image.Pt(pt.X*sw/size.X, pt.Y*sh/size.Y)
}

func (c *Controller) transition(ctx context.Context, to State, sym vision.Symbol) {
	from := c.state
	c.state = to
	c.log.Info("transition", map[string]any{"from": from.String(), "to": to.String(), "symbol": sym.String()})
	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.RecordTransition(ctx, from.String(), to.String(), sym.String(), c.now()); err != nil {
			c.log.Warn("journal write failed", map[string]any{"error": err})
		}
	}
	if c.hooks.OnTransition != nil {
		c.hooks.OnTransition(from, to, sym)
	}
}

func (c *Controller) stop(ctx context.Context, sym vision.Symbol, cause error, reason string) error {
	at := c.state
	c.transition(ctx, Stopped, sym)
	return &StopError{State: at, Reason: reason, Err: cause}
}

// finish records the outcome. It runs on a fresh context so an interrupted
// run is still journaled.
func (c *Controller) finish(err error) {
	outcome := Outcome(err)
	reason := ""
	var se *StopError
	switch {
	case errors.As(err, &se):
		reason = se.Reason
	case err != nil:
		reason = err.Error()
	}
	fields := map[string]any{"state": c.state.String(), "outcome": outcome}
	if reason != "" {
		fields["reason"] = reason
	}
	if outcome == OutcomeSucceeded || outcome == OutcomeInterrupted {
		c.log.Info("run finished", fields)
	} else {
		c.log.Error("run finished", fields)
	}
	if c.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := c.deps.Recorder.FinishRun(ctx, c.state.String(), outcome, reason, c.now()); rerr != nil {
		c.log.Warn("journal write failed", map[string]any{"error": rerr})
	}
}

func (c *Controller) clearArtifacts() {
	if c.deps.Cleaner == nil {
		return
	}
	if n, err := c.deps.Cleaner.Clear(); err != nil {
		c.log.Warn("clearing capture artifacts failed", map[string]any{"error": err})
	} else if n > 0 {
		c.log.Debug("capture artifacts cleared", map[string]any{"removed": n})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
