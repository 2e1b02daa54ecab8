package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide flow/traffic counter singleton.
var Stats = &stats{}

type stats struct {
	FlowsOpened atomic.Int64 // cumulative flows created since process start
	FlowsClosed atomic.Int64 // cumulative flows removed since process start
	BytesIn     atomic.Int64 // cumulative bytes received from the client app (app -> relay)
	BytesOut    atomic.Int64 // cumulative bytes delivered to the client app (relay -> app)
}

func (s *stats) AddFlow()         { s.FlowsOpened.Add(1) }
func (s *stats) RemoveFlow()      { s.FlowsClosed.Add(1) }
func (s *stats) AddBytesIn(n int)  { s.BytesIn.Add(int64(n)) }
func (s *stats) AddBytesOut(n int) { s.BytesOut.Add(int64(n)) }

// StartReporter launches a goroutine that logs traffic/flow counters every
// 10 seconds, and stops when ctx is cancelled.
func StartReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevIn, prevOut, prevOpened, prevClosed int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.FlowsOpened.Load()
				closed := Stats.FlowsClosed.Load()
				in := Stats.BytesIn.Load()
				out := Stats.BytesOut.Load()

				inRate := float64(in-prevIn) / 10.0
				outRate := float64(out-prevOut) / 10.0
				newFlows := opened - prevOpened
				closedFlows := closed - prevClosed

				if newFlows > 0 || closedFlows > 0 || inRate > 10 || outRate > 10 {
					pterm.DefaultLogger.Info(formatStats(inRate, outRate, newFlows, closedFlows))
				}

				prevIn, prevOut, prevOpened, prevClosed = in, out, opened, closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 char) human string.
func formatBytes(b float64) string {
	unitIdx := 0
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}
	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(inRate, outRate float64, newFlows, closedFlows int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Flows: %2d+ %2d-",
		formatBytes(inRate), formatBytes(outRate), newFlows, closedFlows)
}
