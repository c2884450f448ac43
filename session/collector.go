// Package session accumulates decoded heart rate samples during a
// monitoring run and folds them into an end-of-session summary with
// min/avg/max statistics and a time-in-zone breakdown.
package session

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Sample is one decoded heart rate reading with its arrival time.
type Sample struct {
	BPM int       `json:"bpm"`
	At  time.Time `json:"at"`
}

// CollectorMetrics provides lock-free counters for a Collector.
// All fields use atomic operations for thread-safe access.
type CollectorMetrics struct {
	SamplesProcessed   int64 // Samples accepted into the buffer
	ErrorsOccurred     int64 // Errors encountered while collecting
	SamplesOverwritten int64 // Samples lost to buffer overflow
}

// IncrementSamplesProcessed atomically increments the processed counter
func (m *CollectorMetrics) IncrementSamplesProcessed() {
	atomic.AddInt64(&m.SamplesProcessed, 1)
}

// IncrementErrorsOccurred atomically increments the error counter
func (m *CollectorMetrics) IncrementErrorsOccurred() {
	atomic.AddInt64(&m.ErrorsOccurred, 1)
}

// IncrementSamplesOverwritten atomically adds count to the overwritten counter
func (m *CollectorMetrics) IncrementSamplesOverwritten(count uint32) {
	atomic.AddInt64(&m.SamplesOverwritten, int64(count))
}

// GetSamplesProcessed atomically reads the processed counter
func (m *CollectorMetrics) GetSamplesProcessed() int64 {
	return atomic.LoadInt64(&m.SamplesProcessed)
}

// GetErrorsOccurred atomically reads the error counter
func (m *CollectorMetrics) GetErrorsOccurred() int64 {
	return atomic.LoadInt64(&m.ErrorsOccurred)
}

// GetSamplesOverwritten atomically reads the overwritten counter
func (m *CollectorMetrics) GetSamplesOverwritten() int64 {
	return atomic.LoadInt64(&m.SamplesOverwritten)
}

// Reset resets all counters to zero
func (m *CollectorMetrics) Reset() {
	atomic.StoreInt64(&m.SamplesProcessed, 0)
	atomic.StoreInt64(&m.ErrorsOccurred, 0)
	atomic.StoreInt64(&m.SamplesOverwritten, 0)
}

// Collector gathers heart rate samples from a channel into an overlapped
// ring buffer. Old samples are overwritten once the buffer is full, so a
// long run keeps the most recent window; overwrites are counted.
//
// All methods are thread-safe.
type Collector struct {
	samples <-chan Sample
	buffer  mpmc.RichOverlappedRingBuffer[Sample]
	stop    chan struct{}
	done    chan struct{}    // signals when the collect goroutine has stopped
	onError func(error)      // error handler, defaults to panic if nil
	metrics CollectorMetrics // lock-free counters
	state   uint32           // atomic state using CollectorState constants
}

const (
	// CollectorState is the lifecycle state of a Collector
	CollectorStateNotRunning uint32 = iota // not running and ready to start
	CollectorStateRunning                  // running and accepting samples
	CollectorStateStopping                 // in the process of stopping

	// MaxBufferSize caps the buffer size to guard against accidental
	// misconfiguration. At one notification per second this is over
	// eighteen hours of samples.
	MaxBufferSize uint32 = 64 * 1024
)

// NewCollector creates a collector reading from ch.
// bufferSize sets the ring buffer size.
// onError is called when unexpected errors occur; if nil, the collector
// panics on any collecting error.
func NewCollector(ch <-chan Sample, bufferSize uint32, onError func(error)) (*Collector, error) {
	if ch == nil {
		return nil, fmt.Errorf("sample channel cannot be nil")
	}

	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}

	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}

	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("session.Collector: %v", err))
		}
	}

	return &Collector{
		samples: ch,
		buffer:  mpmc.NewOverlappedRingBuffer[Sample](bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
	}, nil
}

// Start begins collecting samples.
// Blocks until the collect goroutine is running or times out.
// Returns an error if already started or if startup takes too long.
func (c *Collector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, CollectorStateNotRunning, CollectorStateRunning) {
		currentState := atomic.LoadUint32(&c.state)
		switch currentState {
		case CollectorStateRunning:
			return fmt.Errorf("collector is already running")
		case CollectorStateStopping:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		default:
			return fmt.Errorf("collector is in unknown state %d", currentState)
		}
	}

	// Fresh channels for this start cycle so a restart cannot close an
	// already closed channel.
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	// Buffered so the goroutine never blocks on the startup signal even
	// when the timeout below fires first.
	started := make(chan struct{}, 1)

	go func() {
		started <- struct{}{}

		defer func() {
			close(c.done)
			atomic.StoreUint32(&c.state, CollectorStateNotRunning)
		}()
		for {
			select {
			case <-c.stop:
				return
			case sample, ok := <-c.samples:
				if !ok {
					return // channel closed, session feed ended
				}
				// The ring buffer handles overflow by dropping the oldest
				if overwrites, err := c.buffer.EnqueueM(sample); err != nil {
					c.metrics.IncrementErrorsOccurred()
					c.onError(fmt.Errorf("unexpected buffer.Enqueue error: %w", err))
					return
				} else {
					c.metrics.IncrementSamplesOverwritten(overwrites)
					c.metrics.IncrementSamplesProcessed()
				}
			}
		}
	}()

	select {
	case <-started:
		return nil
	case <-time.After(1 * time.Second):
		// Timeout: stop the goroutine and wait for clean exit
		close(c.stop)
		<-c.done
		return fmt.Errorf("collector failed to start within 1s timeout")
	}
}

// Stop stops sample collection.
// Returns an error if stopping takes longer than expected.
func (c *Collector) Stop() error {
	if !atomic.CompareAndSwapUint32(&c.state, CollectorStateRunning, CollectorStateStopping) {
		currentState := atomic.LoadUint32(&c.state)
		switch currentState {
		case CollectorStateNotRunning:
			return nil // already stopped
		case CollectorStateStopping:
			// Already stopping, wait for completion
			break
		default:
			return fmt.Errorf("collector is in unknown state %d", currentState)
		}
	} else {
		close(c.stop)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		// Stop was already signaled; block until the goroutine actually
		// exits so the state stays consistent.
		<-c.done
		return fmt.Errorf("stop completed but exceeded 5s timeout (possible slow shutdown or deadlock)")
	}
}

// GetState returns the current lifecycle state of the collector
func (c *Collector) GetState() uint32 {
	return atomic.LoadUint32(&c.state)
}

// GetMetrics returns a copy of the current metrics
func (c *Collector) GetMetrics() CollectorMetrics {
	return CollectorMetrics{
		SamplesProcessed:   c.metrics.GetSamplesProcessed(),
		ErrorsOccurred:     c.metrics.GetErrorsOccurred(),
		SamplesOverwritten: c.metrics.GetSamplesOverwritten(),
	}
}

// ResetMetrics atomically resets all metric counters
func (c *Collector) ResetMetrics() {
	c.metrics.Reset()
}

// ConsumerFunc defines the signature of a function that consumes buffered samples.
//
// Protocol:
// - If sample != nil: process the sample.
// Return (zero, nil) to continue with more samples.
// Return (result, nil) to stop early with a final result.
// - If sample == nil: no more samples will be provided.
// Return the final accumulated result.
//
// The function is responsible for managing any internal state needed
// across calls.
//
// For a ready-to-use implementation, see SummaryConsumerFunc.
type ConsumerFunc[T any] func(sample *Sample) (T, error)

// ConsumeSamples drains all buffered samples and passes them to the given ConsumerFunc.
//
// The consumer decides when to stop and what result to return. See ConsumerFunc for the protocol.
func ConsumeSamples[T any](c *Collector, consumer ConsumerFunc[T]) (T, error) {
	for !c.buffer.IsEmpty() {
		sample, err := c.buffer.Dequeue()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("buffer dequeue error: %w", err)
		}

		result, err := consumer(&sample)
		if err != nil {
			return result, err
		}

		// A non-zero result means the consumer wants to stop
		if !isZeroValue(result) {
			return result, nil
		}
	}

	// No more data, ask the consumer for the final result
	return consumer(nil)
}

// isZeroValue checks if a value is the zero value for its type
func isZeroValue[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}
