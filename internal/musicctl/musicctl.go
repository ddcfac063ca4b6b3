// Package musicctl drives the background music player's volume over its
// IPC pipe, ducking it down while someone is speaking and restoring it
// afterward. The named-pipe dial itself is platform-specific (see
// pipe_windows.go / pipe_unix.go); the transition stepper, retry policy,
// and JSON-line protocol are shared here.
package musicctl

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// Controller is the narrow capability the bridge needs from a music
// player: duck or unduck, and stop.
type Controller interface {
	SetDucking(shouldDuck bool)
	Stop()
}

const (
	DefaultNormalVolume  = 100
	DefaultDuckingVolume = 15

	stepInterval          = 20 * time.Millisecond
	DefaultTransitionTime = 100 * time.Millisecond

	retryAttempts = 3
	retryInterval = 100 * time.Millisecond
)

// pipeConn is the narrow surface musicctl needs from a named-pipe
// connection, satisfied by both the Windows npipe.PipeConn and the Unix
// net.Conn used for the ipc-server socket fallback.
type pipeConn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// command is the line-delimited JSON shape mpv's IPC protocol expects.
type command struct {
	Command []any `json:"command"`
}

// NamedPipe is a Controller that talks to mpv over its platform IPC
// pipe. Failures are logged and dropped: the audio pipeline must never
// block on music control.
type NamedPipe struct {
	mu   sync.Mutex
	path string
	conn pipeConn

	normalVolume  int
	duckingVolume int
	steps         int

	current       float64
	target        float64
	transitioning bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewNamedPipe returns a NamedPipe controller bound to path (not yet
// dialed; the first volume command dials lazily). transition is the total
// ramp time between volume levels; zero means DefaultTransitionTime.
func NewNamedPipe(path string, normalVolume, duckingVolume int, transition time.Duration) *NamedPipe {
	if normalVolume <= 0 {
		normalVolume = DefaultNormalVolume
	}
	if duckingVolume < 0 {
		duckingVolume = DefaultDuckingVolume
	}
	if transition <= 0 {
		transition = DefaultTransitionTime
	}
	steps := int(transition / stepInterval)
	if steps < 1 {
		steps = 1
	}
	return &NamedPipe{
		path:          path,
		normalVolume:  normalVolume,
		duckingVolume: duckingVolume,
		steps:         steps,
		current:       float64(normalVolume),
		target:        float64(normalVolume),
		stopCh:        make(chan struct{}),
	}
}

// SetDucking retargets the volume toward the ducking or normal level. A
// stepper goroutine is spawned if one is not already running; a running
// stepper simply picks up the new target on its next tick. An already-
// settled controller asked for the level it is at sends one exact set
// (idempotent) from a short-lived goroutine and starts no stepper.
func (n *NamedPipe) SetDucking(shouldDuck bool) {
	n.mu.Lock()
	if shouldDuck {
		n.target = float64(n.duckingVolume)
	} else {
		n.target = float64(n.normalVolume)
	}
	if n.transitioning {
		n.mu.Unlock()
		return
	}
	if math.Abs(n.target-n.current) < 1 {
		target := int(n.target)
		n.mu.Unlock()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.setVolume(target)
		}()
		return
	}
	n.transitioning = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.transition()
}

// transition steps current toward target every stepInterval by a fixed
// step of (target-current)/steps, measured when the target was last set,
// so a full ramp takes the configured transition time. The target is
// re-read each tick, so a retarget mid-flight restarts the ramp from the
// current level instead of stacking a second stepper. Once the remaining
// distance is within one step (plus one volume unit) it writes the exact
// target and exits.
func (n *NamedPipe) transition() {
	defer n.wg.Done()

	ticker := time.NewTicker(stepInterval)
	defer ticker.Stop()

	rampTarget := math.NaN()
	var step float64

	for {
		select {
		case <-n.stopCh:
			n.mu.Lock()
			n.transitioning = false
			n.mu.Unlock()
			return
		case <-ticker.C:
		}
		// A stop raced the tick: prefer stopping.
		select {
		case <-n.stopCh:
			n.mu.Lock()
			n.transitioning = false
			n.mu.Unlock()
			return
		default:
		}

		n.mu.Lock()
		diff := n.target - n.current
		if n.target != rampTarget {
			// New (or first) target: split the distance into equal steps.
			rampTarget = n.target
			step = diff / float64(n.steps)
		}
		if math.Abs(diff) < math.Abs(step)+1 {
			target := n.target
			n.current = target
			n.transitioning = false
			n.mu.Unlock()
			n.setVolume(int(target))
			return
		}
		n.current += step
		value := int(math.Round(n.current))
		n.mu.Unlock()
		n.setVolume(value)
	}
}

// Stop halts any in-flight transition, restores normal volume, and
// releases the pipe connection.
func (n *NamedPipe) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()

	n.setVolume(n.normalVolume)
	n.mu.Lock()
	n.current = float64(n.normalVolume)
	n.target = n.current
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Current returns the controller's latest interpolated volume.
func (n *NamedPipe) Current() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// setVolume sends `set_property volume V` with retries, dropping the
// command silently on persistent failure.
func (n *NamedPipe) setVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	cmd := command{Command: []any{"set_property", "volume", v}}
	payload, err := json.Marshal(cmd)
	if err != nil {
		log.Printf("[musicctl] marshal set_property volume: %v", err)
		return
	}
	payload = append(payload, '\n')

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := n.send(payload); err == nil {
			return
		} else if attempt == retryAttempts {
			log.Printf("[musicctl] set volume %d dropped after %d attempts: %v", v, retryAttempts, err)
			return
		}
		time.Sleep(retryInterval)
	}
}

func (n *NamedPipe) send(payload []byte) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		c, err := dialPipe(n.path, retryInterval)
		if err != nil {
			return fmt.Errorf("dial %s: %w", n.path, err)
		}
		n.mu.Lock()
		n.conn = c
		n.mu.Unlock()
		conn = c
	}

	if _, err := conn.Write(payload); err != nil {
		n.mu.Lock()
		if n.conn == conn {
			n.conn = nil
		}
		n.mu.Unlock()
		conn.Close()
		return err
	}
	return nil
}

// Noop is a Controller that does nothing, used when mpv.enabled is false
// in configuration.
type Noop struct{}

func (Noop) SetDucking(bool) {}
func (Noop) Stop()           {}
