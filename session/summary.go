package session

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultMaxHeartRate is used when a caller passes a non-positive maximum.
const DefaultMaxHeartRate = 190

// Zone is a heart rate training zone derived from the percentage of the
// maximum heart rate: below 50% is rest, then five 10% bands.
type Zone int

const (
	ZoneRest Zone = iota
	Zone1
	Zone2
	Zone3
	Zone4
	Zone5

	zoneCount = int(Zone5) + 1
)

func (z Zone) String() string {
	switch z {
	case ZoneRest:
		return "rest"
	case Zone1:
		return "very light"
	case Zone2:
		return "light"
	case Zone3:
		return "moderate"
	case Zone4:
		return "hard"
	case Zone5:
		return "maximum"
	default:
		return "unknown"
	}
}

// ZoneOf maps a heart rate to its training zone. Band lower bounds are
// inclusive: exactly 50% of the maximum is Zone1, exactly 90% is Zone5.
func ZoneOf(bpm, maxHeartRate int) Zone {
	if maxHeartRate <= 0 {
		maxHeartRate = DefaultMaxHeartRate
	}

	pct := float64(bpm) / float64(maxHeartRate)
	switch {
	case pct < 0.5:
		return ZoneRest
	case pct < 0.6:
		return Zone1
	case pct < 0.7:
		return Zone2
	case pct < 0.8:
		return Zone3
	case pct < 0.9:
		return Zone4
	default:
		return Zone5
	}
}

// Summary is the statistical digest of one monitoring session.
//
// Duration spans the first to the last sample. TimeInZone is indexed by
// Zone; each inter-sample gap is attributed to the zone of the sample that
// opened it, so the zone durations sum to Duration.
type Summary struct {
	Samples    int64                    `json:"samples"`
	Duration   time.Duration            `json:"duration"`
	MinBPM     int                      `json:"min_bpm"`
	AvgBPM     int                      `json:"avg_bpm"`
	MaxBPM     int                      `json:"max_bpm"`
	TimeInZone [zoneCount]time.Duration `json:"time_in_zone"`
}

// Format renders the summary as an indented text block for terminal output.
func (s Summary) Format() string {
	if s.Samples == 0 {
		return "Session summary: no samples collected\n"
	}

	var b strings.Builder
	b.WriteString("Session summary\n")
	fmt.Fprintf(&b, "  samples:    %d\n", s.Samples)
	fmt.Fprintf(&b, "  duration:   %s\n", s.Duration.Round(time.Second))
	fmt.Fprintf(&b, "  heart rate: min %d  avg %d  max %d bpm\n", s.MinBPM, s.AvgBPM, s.MaxBPM)

	b.WriteString("  time in zone:\n")
	for z := ZoneRest; int(z) < zoneCount; z++ {
		d := s.TimeInZone[z]
		if d == 0 {
			continue
		}
		fmt.Fprintf(&b, "    %-10s %s\n", z.String(), d.Round(time.Second))
	}
	return b.String()
}

// SummaryConsumerFunc returns a ConsumerFunc that folds samples into a
// Summary, with zones derived from maxHeartRate.
func SummaryConsumerFunc(maxHeartRate int) ConsumerFunc[Summary] {
	var (
		count    int64
		sum      int64
		min, max int
		first    time.Time
		prev     Sample // sample opening the current inter-sample gap
		zones    [zoneCount]time.Duration
	)
	return func(sample *Sample) (Summary, error) {
		if sample == nil {
			// No more data, fold the accumulated state
			if count == 0 {
				return Summary{}, nil
			}
			duration := prev.At.Sub(first)
			if duration < 0 {
				duration = 0
			}
			return Summary{
				Samples:    count,
				Duration:   duration,
				MinBPM:     min,
				AvgBPM:     int(math.Round(float64(sum) / float64(count))),
				MaxBPM:     max,
				TimeInZone: zones,
			}, nil
		}

		if count == 0 {
			min, max = sample.BPM, sample.BPM
			first = sample.At
		} else {
			// Attribute the gap to the reading in effect during it. Gaps
			// from non-monotonic timestamps are dropped.
			if gap := sample.At.Sub(prev.At); gap > 0 {
				zones[ZoneOf(prev.BPM, maxHeartRate)] += gap
			}
			if sample.BPM < min {
				min = sample.BPM
			}
			if sample.BPM > max {
				max = sample.BPM
			}
		}

		count++
		sum += int64(sample.BPM)
		prev = *sample
		return Summary{}, nil // continue
	}
}

// Summarize drains all buffered samples and folds them into a Summary
// using zones derived from maxHeartRate.
func (c *Collector) Summarize(maxHeartRate int) (Summary, error) {
	return ConsumeSamples(c, SummaryConsumerFunc(maxHeartRate))
}
