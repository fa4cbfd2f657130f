// Package live runs one duplex voice session: microphone frames go to the
// backend, returned audio is scheduled on the output, and interruptions
// flush the playback queue.
package live

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/style"
)

var (
	// ErrAlreadyStarted is returned by Start on a controller that is opening or open.
	ErrAlreadyStarted = errors.New("live session already started")
	// ErrClosed is returned by Start once the controller has shut down.
	ErrClosed = errors.New("live session is closed")
)

const eventBuffer = 64

// State is the lifecycle position of a Controller.
type State int

const (
	// StateIdle is a new controller that has not been started.
	StateIdle State = iota
	// StateOpening holds the microphone while the backend session dials.
	StateOpening
	// StateOpen streams audio in both directions.
	StateOpen
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Hooks receive session notifications. OnOpen, OnAudioChunk and OnText run
// on the session goroutine and must not block or call Stop. OnError and
// OnClose run after teardown; exactly one of them is called per session.
type Hooks struct {
	OnOpen       func()
	OnAudioChunk func(chunk audio.EncodedChunk)
	OnText       func(text string)
	OnError      func(err error)
	OnClose      func()
}

// Controller owns one live session. It is single-use: once closed, a new
// Controller is needed.
type Controller struct {
	dialer  Dialer
	mic     audio.Microphone
	out     audio.Output
	capture *audio.Capture

	mu     sync.Mutex
	state  State
	conn   Conn
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once

	// Owned by the run goroutine.
	events    chan event
	hooks     Hooks
	scheduler *audio.Scheduler
	stream    audio.Stream
	pumps     errgroup.Group
}

// Option configures a Controller.
type Option func(*Controller)

// WithCapture replaces the default capture pipeline.
func WithCapture(c *audio.Capture) Option {
	return func(ctl *Controller) {
		if c != nil {
			ctl.capture = c
		}
	}
}

// New creates an idle controller.
func New(dialer Dialer, mic audio.Microphone, out audio.Output, opts ...Option) *Controller {
	c := &Controller{
		dialer:  dialer,
		mic:     mic,
		out:     out,
		capture: audio.NewCapture(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once a started session has fully torn down.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start acquires the microphone and begins opening the session with the
// style's live instruction. It returns once the microphone is held; the
// session itself opens asynchronously and is reported through OnOpen or
// OnError. Microphone denial is returned as an error wrapping
// audio.ErrMicrophoneAccess and leaves the controller closed.
func (c *Controller) Start(ctx context.Context, s style.Style, hooks Hooks) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
	case StateClosed:
		return ErrClosed
	default:
		return ErrAlreadyStarted
	}

	stream, err := c.mic.Open(ctx)
	if err != nil {
		c.state = StateClosed
		close(c.done)
		if !errors.Is(err, audio.ErrMicrophoneAccess) {
			err = errors.Wrap(audio.ErrMicrophoneAccess, err.Error())
		}
		log.Warn().Err(err).Msg("🎤 Live mode not started")
		return err
	}

	c.state = StateOpening
	c.stream = stream
	c.hooks = hooks
	c.events = make(chan event, eventBuffer)

	sessCtx, cancel := context.WithCancel(ctx)
	c.scheduler = audio.NewScheduler(c.out, audio.WithDispatch(func(fn func()) {
		c.post(sessCtx, endedEvent{fn: fn})
	}))

	go c.dial(sessCtx, style.LiveInstruction(s))
	go c.run(sessCtx, cancel)
	log.Info().Str("style", string(s)).Msg("🎙️ Opening live session")
	return nil
}

// Stop closes the session, halts playback and releases the microphone. It
// blocks until teardown is complete and is safe to call repeatedly.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.state = StateClosed
		close(c.done)
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.state = StateClosed
	c.once.Do(func() { close(c.stopCh) })
	c.mu.Unlock()

	<-c.done
	return nil
}

type event interface{}

type (
	openedEvent     struct{}
	openFailedEvent struct{ err error }
	messageEvent    struct{ msg *ServerMessage }
	endedEvent      struct{ fn func() }
	failedEvent     struct{ err error }
	remoteEOFEvent  struct{}
)

// post delivers ev to the run loop unless the session is shutting down.
func (c *Controller) post(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) dial(ctx context.Context, instruction string) {
	conn, err := c.dialer.Dial(ctx, Config{SystemInstruction: instruction})
	if err != nil {
		c.post(ctx, openFailedEvent{err: err})
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		log.Info().Msg("🔌 Closing live session that opened after stop")
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.post(ctx, openedEvent{})
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc) {
	var termErr error
	for done := false; !done; {
		select {
		case <-c.stopCh:
			done = true
		case <-ctx.Done():
			done = true
		case ev := <-c.events:
			done, termErr = c.handle(ctx, ev)
		}
	}

	c.mu.Lock()
	c.state = StateClosed
	conn := c.conn
	c.mu.Unlock()

	cancel()
	c.scheduler.Interrupt()
	if err := c.stream.Close(); err != nil {
		log.Warn().Err(err).Msg("🎤 Failed to release microphone")
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("🔌 Failed to close live session")
		}
	}
	_ = c.pumps.Wait()
	close(c.done)

	if termErr != nil {
		log.Error().Err(termErr).Msg("❌ Live session failed")
		if c.hooks.OnError != nil {
			c.hooks.OnError(termErr)
		}
		return
	}
	log.Info().Msg("🔌 Live session closed")
	if c.hooks.OnClose != nil {
		c.hooks.OnClose()
	}
}

// handle processes one event and reports whether the session must end.
func (c *Controller) handle(ctx context.Context, ev event) (bool, error) {
	switch e := ev.(type) {
	case openedEvent:
		c.onOpened(ctx)
	case openFailedEvent:
		return true, errors.Wrap(e.err, "open live session")
	case messageEvent:
		c.dispatch(e.msg)
	case endedEvent:
		e.fn()
	case failedEvent:
		return true, e.err
	case remoteEOFEvent:
		return true, nil
	}
	return false, nil
}

func (c *Controller) onOpened(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	conn := c.conn
	c.mu.Unlock()

	stream := c.stream
	c.pumps.Go(func() error {
		err := c.capture.Run(ctx, stream, conn)
		if err != nil {
			c.post(ctx, failedEvent{err: errors.Wrap(err, "capture")})
		}
		return err
	})
	c.pumps.Go(func() error {
		for {
			msg, err := conn.Receive(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					c.post(ctx, remoteEOFEvent{})
					return nil
				}
				if ctx.Err() == nil {
					c.post(ctx, failedEvent{err: errors.Wrap(err, "receive")})
				}
				return err
			}
			if !c.post(ctx, messageEvent{msg: msg}) {
				return nil
			}
		}
	})

	log.Info().Msg("✅ Live session open")
	if c.hooks.OnOpen != nil {
		c.hooks.OnOpen()
	}
}

// dispatch plays any audio in msg first, then applies its interruption flag.
func (c *Controller) dispatch(msg *ServerMessage) {
	if msg == nil {
		return
	}
	for _, chunk := range msg.Audio {
		if _, err := c.scheduler.Enqueue(chunk); err != nil {
			log.Warn().Err(err).Msg("⚠️ Dropping malformed audio chunk")
			continue
		}
		if c.hooks.OnAudioChunk != nil {
			c.hooks.OnAudioChunk(chunk)
		}
	}
	if msg.Text != "" && c.hooks.OnText != nil {
		c.hooks.OnText(msg.Text)
	}
	if msg.Interrupted {
		log.Debug().Int("active", c.scheduler.Active()).Msg("✋ Playback interrupted")
		c.scheduler.Interrupt()
	}
	if msg.TurnComplete {
		log.Debug().Msg("📥 Turn complete")
	}
}
