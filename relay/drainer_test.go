package relay

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/monitor"
	"github.com/srg/hrmon/profile"
	"github.com/stretchr/testify/suite"
)

type DrainerTestSuite struct {
	suite.Suite
	logger *logrus.Logger
}

func (suite *DrainerTestSuite) SetupSuite() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.PanicLevel)
}

func heartRateEvent(value string) monitor.Event {
	return monitor.Event{
		Type:    monitor.EventData,
		Reading: &profile.Reading{Kind: profile.KindHeartRate, Value: value},
	}
}

func (suite *DrainerTestSuite) TestWriteEvent() {
	// GOAL: Verify event rendering: readings become lines, connection events do not
	//
	// TEST SCENARIO: Render each event type onto a buffer → only readings produce output

	tests := []struct {
		name     string
		event    monitor.Event
		expected string
	}{
		{
			name:     "heart rate reading",
			event:    heartRateEvent("72"),
			expected: "heart_rate 72\r\n",
		},
		{
			name: "battery reading",
			event: monitor.Event{
				Type:    monitor.EventData,
				Reading: &profile.Reading{Kind: profile.KindBattery, Value: "85"},
			},
			expected: "battery 85\r\n",
		},
		{
			name:     "connected event is silent",
			event:    monitor.Event{Type: monitor.EventConnected},
			expected: "",
		},
		{
			name:     "disconnected event is silent",
			event:    monitor.Event{Type: monitor.EventDisconnected},
			expected: "",
		},
		{
			name:     "data event without a reading is silent",
			event:    monitor.Event{Type: monitor.EventData},
			expected: "",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			var buf bytes.Buffer
			writeEvent(tt.event, &buf, suite.logger)
			suite.Assert().Equal(tt.expected, buf.String())
		})
	}
}

func (suite *DrainerTestSuite) TestDrainsUntilChannelClose() {
	// GOAL: Verify the drainer writes every event and exits when the channel closes
	//
	// TEST SCENARIO: Send three readings → close channel → Wait → lines in order

	events := make(chan monitor.Event, 8)
	events <- heartRateEvent("70")
	events <- heartRateEvent("71")
	events <- heartRateEvent("72")
	close(events)

	var buf bytes.Buffer
	drainer := NewDrainer(context.Background(), events, suite.logger, &buf)
	drainer.Wait()

	suite.Assert().Equal("heart_rate 70\r\nheart_rate 71\r\nheart_rate 72\r\n", buf.String(),
		"readings MUST appear in delivery order")
}

func (suite *DrainerTestSuite) TestCancelDrainsPendingEvents() {
	// GOAL: Verify Cancel flushes buffered events before the goroutine exits
	//
	// TEST SCENARIO: Fill the channel, cancel immediately → pending readings still written

	events := make(chan monitor.Event, 8)
	var buf bytes.Buffer
	drainer := NewDrainer(context.Background(), events, suite.logger, &buf)

	events <- heartRateEvent("90")
	events <- heartRateEvent("91")
	close(events)

	drainer.Cancel()
	drainer.Wait()

	suite.Assert().Contains(buf.String(), "heart_rate 90\r\n")
	suite.Assert().Contains(buf.String(), "heart_rate 91\r\n")
}

func (suite *DrainerTestSuite) TestCancelIsIdempotent() {
	// GOAL: Verify repeated Cancel calls are safe
	//
	// TEST SCENARIO: Cancel twice, then Wait → no panic, drainer exits

	events := make(chan monitor.Event)
	drainer := NewDrainer(context.Background(), events, suite.logger, &bytes.Buffer{})

	drainer.Cancel()
	drainer.Cancel()
	drainer.Wait()
}

func (suite *DrainerTestSuite) TestContextCancellationStopsDrainer() {
	// GOAL: Verify context cancellation terminates the drainer goroutine
	//
	// TEST SCENARIO: Cancel the context → Wait returns promptly

	events := make(chan monitor.Event)
	ctx, cancel := context.WithCancel(context.Background())

	drainer := NewDrainer(ctx, events, suite.logger, &bytes.Buffer{})
	cancel()

	done := make(chan struct{})
	go func() {
		drainer.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("drainer MUST exit after context cancellation")
	}
}

func (suite *DrainerTestSuite) TestNilWriterIsDiscarded() {
	// GOAL: Verify a nil writer does not panic the drainer
	//
	// TEST SCENARIO: Start with nil writer → send a reading → close → clean exit

	events := make(chan monitor.Event, 1)
	events <- heartRateEvent("65")
	close(events)

	drainer := NewDrainer(context.Background(), events, suite.logger, nil)
	drainer.Wait()
}

func TestDrainerSuite(t *testing.T) {
	suite.Run(t, new(DrainerTestSuite))
}
