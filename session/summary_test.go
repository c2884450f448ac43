package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// SummaryTestSuite provides tests for zone mapping and session statistics
type SummaryTestSuite struct {
	suite.Suite
}

// fold runs the summary consumer over samples without a collector
func (suite *SummaryTestSuite) fold(maxHeartRate int, samples ...Sample) Summary {
	consumer := SummaryConsumerFunc(maxHeartRate)
	for i := range samples {
		_, err := consumer(&samples[i])
		suite.Require().NoError(err)
	}
	summary, err := consumer(nil)
	suite.Require().NoError(err)
	return summary
}

func (suite *SummaryTestSuite) TestZoneOf() {
	// GOAL: Verify zone band boundaries are inclusive at the lower edge
	//
	// TEST SCENARIO: Map heart rates around each 10% boundary of a 190 bpm
	// maximum → each lands in the expected zone

	tests := []struct {
		name string
		bpm  int
		max  int
		want Zone
	}{
		{name: "well below half max", bpm: 60, max: 190, want: ZoneRest},
		{name: "just below 50%", bpm: 94, max: 190, want: ZoneRest},
		{name: "exactly 50%", bpm: 95, max: 190, want: Zone1},
		{name: "just below 60%", bpm: 113, max: 190, want: Zone1},
		{name: "exactly 60%", bpm: 114, max: 190, want: Zone2},
		{name: "just below 70%", bpm: 132, max: 190, want: Zone2},
		{name: "exactly 70%", bpm: 133, max: 190, want: Zone3},
		{name: "just below 80%", bpm: 151, max: 190, want: Zone3},
		{name: "exactly 80%", bpm: 152, max: 190, want: Zone4},
		{name: "just below 90%", bpm: 170, max: 190, want: Zone4},
		{name: "exactly 90%", bpm: 171, max: 190, want: Zone5},
		{name: "above max", bpm: 205, max: 190, want: Zone5},
		{name: "50% of a 200 max", bpm: 100, max: 200, want: Zone1},
		{name: "zero max falls back to default", bpm: 100, max: 0, want: Zone1},
		{name: "negative max falls back to default", bpm: 60, max: -5, want: ZoneRest},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Equal(tt.want, ZoneOf(tt.bpm, tt.max))
		})
	}
}

func (suite *SummaryTestSuite) TestZoneStrings() {
	suite.Equal("rest", ZoneRest.String())
	suite.Equal("very light", Zone1.String())
	suite.Equal("light", Zone2.String())
	suite.Equal("moderate", Zone3.String())
	suite.Equal("hard", Zone4.String())
	suite.Equal("maximum", Zone5.String())
	suite.Equal("unknown", Zone(42).String())
}

func (suite *SummaryTestSuite) TestEmptySession() {
	// GOAL: Verify a session without samples folds to an empty summary
	//
	// TEST SCENARIO: Fold nothing → zero samples → Format reports it

	summary := suite.fold(190)

	suite.Zero(summary.Samples)
	suite.Zero(summary.Duration)
	suite.Contains(summary.Format(), "no samples")
}

func (suite *SummaryTestSuite) TestSingleSample() {
	// GOAL: Verify one sample yields degenerate statistics
	//
	// TEST SCENARIO: Fold one reading → min = avg = max, zero duration,
	// nothing attributed to any zone

	at := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	summary := suite.fold(190, Sample{BPM: 72, At: at})

	suite.Equal(int64(1), summary.Samples)
	suite.Zero(summary.Duration)
	suite.Equal(72, summary.MinBPM)
	suite.Equal(72, summary.AvgBPM)
	suite.Equal(72, summary.MaxBPM)
	suite.Equal([zoneCount]time.Duration{}, summary.TimeInZone)
}

func (suite *SummaryTestSuite) TestStatisticsAndZoneBreakdown() {
	// GOAL: Verify min/avg/max and the gap-attribution rule: each interval
	// belongs to the zone of the reading that opened it
	//
	// TEST SCENARIO: Five readings climbing through the zones of a 190 bpm
	// maximum → per-zone durations match the hand-computed gaps

	base := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	summary := suite.fold(190,
		Sample{BPM: 90, At: base},                        // rest opens a 10s gap
		Sample{BPM: 100, At: base.Add(10 * time.Second)}, // zone 1 opens a 15s gap
		Sample{BPM: 120, At: base.Add(25 * time.Second)}, // zone 2 opens a 15s gap
		Sample{BPM: 150, At: base.Add(40 * time.Second)}, // zone 3 opens a 10s gap
		Sample{BPM: 172, At: base.Add(50 * time.Second)}, // final reading, no gap
	)

	suite.Equal(int64(5), summary.Samples)
	suite.Equal(50*time.Second, summary.Duration)
	suite.Equal(90, summary.MinBPM)
	suite.Equal(126, summary.AvgBPM) // 632/5 = 126.4
	suite.Equal(172, summary.MaxBPM)

	suite.Equal([zoneCount]time.Duration{
		ZoneRest: 10 * time.Second,
		Zone1:    15 * time.Second,
		Zone2:    15 * time.Second,
		Zone3:    10 * time.Second,
	}, summary.TimeInZone)
}

func (suite *SummaryTestSuite) TestAverageRounding() {
	// GOAL: Verify the average rounds to the nearest integer

	base := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	summary := suite.fold(190,
		Sample{BPM: 70, At: base},
		Sample{BPM: 71, At: base.Add(time.Second)},
	)

	suite.Equal(71, summary.AvgBPM) // 70.5 rounds up
}

func (suite *SummaryTestSuite) TestNonMonotonicTimestamps() {
	// GOAL: Verify clock skew cannot produce negative durations
	//
	// TEST SCENARIO: Second sample timestamped before the first → the gap is
	// dropped and the duration clamps to zero

	base := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	summary := suite.fold(190,
		Sample{BPM: 100, At: base},
		Sample{BPM: 110, At: base.Add(-5 * time.Second)},
	)

	suite.Equal(int64(2), summary.Samples)
	suite.Zero(summary.Duration)
	suite.Equal([zoneCount]time.Duration{}, summary.TimeInZone)
	suite.Equal(100, summary.MinBPM)
	suite.Equal(110, summary.MaxBPM)
}

func (suite *SummaryTestSuite) TestFormat() {
	// GOAL: Verify the text rendering lists statistics and skips empty zones

	base := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	summary := suite.fold(190,
		Sample{BPM: 90, At: base},
		Sample{BPM: 100, At: base.Add(10 * time.Second)},
	)

	out := summary.Format()
	suite.Contains(out, "samples:    2")
	suite.Contains(out, "duration:   10s")
	suite.Contains(out, "min 90  avg 95  max 100 bpm")
	suite.Contains(out, "rest")
	suite.NotContains(out, "maximum", "zones without time MUST be omitted")
}

func (suite *SummaryTestSuite) TestCollectorSummarize() {
	// GOAL: Verify the full pipeline: channel intake → ring buffer → summary
	//
	// TEST SCENARIO: Feed samples through a running collector → stop →
	// Summarize drains the buffer → a second Summarize sees nothing

	ch := make(chan Sample, 8)
	collector, err := NewCollector(ch, 32, nil)
	suite.Require().NoError(err)
	suite.Require().NoError(collector.Start())

	base := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	ch <- Sample{BPM: 90, At: base}
	ch <- Sample{BPM: 100, At: base.Add(10 * time.Second)}
	ch <- Sample{BPM: 120, At: base.Add(25 * time.Second)}

	suite.Require().Eventually(func() bool {
		m := collector.GetMetrics()
		return m.SamplesProcessed == 3
	}, 2*time.Second, time.Millisecond)
	suite.Require().NoError(collector.Stop())

	summary, err := collector.Summarize(190)
	suite.Require().NoError(err)
	suite.Equal(int64(3), summary.Samples)
	suite.Equal(25*time.Second, summary.Duration)
	suite.Equal(90, summary.MinBPM)
	suite.Equal(120, summary.MaxBPM)

	again, err := collector.Summarize(190)
	suite.Require().NoError(err)
	suite.Zero(again.Samples, "the buffer MUST be empty after a drain")
}

func TestSummaryTestSuite(t *testing.T) {
	suite.Run(t, new(SummaryTestSuite))
}
