package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/monitor"
)

// Drainer continuously drains monitor events to a writer, rendering each
// decoded reading as one text line. It runs in a background goroutine and
// provides graceful shutdown via Cancel() and Wait().
type Drainer struct {
	cancelOnce sync.Once      // ensures Cancel() is called at most once
	stop       chan struct{}  // signals the drainer goroutine to stop
	wg         sync.WaitGroup // tracks the drainer goroutine lifecycle
}

// Cancel signals the drainer to stop and drain the remaining events.
func (d *Drainer) Cancel() {
	d.cancelOnce.Do(func() {
		close(d.stop)
	})
}

// Wait blocks until the drainer goroutine has fully exited.
func (d *Drainer) Wait() {
	d.wg.Wait()
}

// writeEvent renders one event onto w. Connection events are not written;
// only decoded readings cross the PTY.
func writeEvent(ev monitor.Event, w io.Writer, logger *logrus.Logger) {
	if ev.Type != monitor.EventData || ev.Reading == nil {
		return
	}
	if _, err := fmt.Fprintf(w, "%s %s\r\n", ev.Reading.Kind, ev.Reading.Value); err != nil {
		logger.WithFields(logrus.Fields{
			"kind":  ev.Reading.Kind.String(),
			"error": err,
		}).Warn("Reading drainer: write failed")
	}
}

// drainWithTimeout drains remaining events from the channel with a timeout.
// Returns true if the channel was closed normally, false if the timeout was reached.
func drainWithTimeout(
	events <-chan monitor.Event,
	w io.Writer,
	timeout time.Duration,
	logger *logrus.Logger,
	reason string,
) bool {
	drainTimeout := time.After(timeout)
	drained := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Channel closed, all events drained
				logger.WithFields(logrus.Fields{
					"reason":  reason,
					"drained": drained,
				}).Debug("Reading drainer: drain completed (channel closed)")
				return true
			}
			drained++
			writeEvent(ev, w, logger)
		case <-drainTimeout:
			// Timeout reached, stop draining to prevent goroutine leak
			logger.WithFields(logrus.Fields{
				"reason":  reason,
				"drained": drained,
				"timeout": timeout,
			}).Debug("Reading drainer: drain timeout reached")
			return false
		}
	}
}

// NewDrainer starts a goroutine that continuously drains events to the
// provided writer. It returns a Drainer that you can Cancel() and Wait() on.
func NewDrainer(
	ctx context.Context,
	events <-chan monitor.Event,
	logger *logrus.Logger,
	w io.Writer,
) *Drainer {
	// Use io.Discard for a nil writer to eliminate nil checks in the hot path
	if w == nil {
		w = io.Discard
	}

	drainer := &Drainer{
		stop: make(chan struct{}),
	}

	drainer.wg.Add(1)
	groutine.Go(ctx, "relay-reading-drainer", func(ctx context.Context) {
		defer drainer.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).Error("Reading drainer: panic recovered")
			}
		}()
		defer logger.Debugf("%s: exiting", groutine.GetName(ctx))

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					// Event channel closed by the monitor
					return
				}
				writeEvent(ev, w, logger)

			case <-drainer.stop:
				// Drain remaining events with a timeout to prevent indefinite blocking
				drainWithTimeout(events, w, 100*time.Millisecond, logger, "stop")
				return

			case <-ctx.Done():
				// Context canceled - drain remaining events with timeout before exit
				drainWithTimeout(events, w, 100*time.Millisecond, logger, "context-done")
				return
			}
		}
	})

	return drainer
}
