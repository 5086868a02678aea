package clock

import (
	"github.com/zeusync/netsync/internal/core/models"
)

const (
	// DefaultLag is the assumed distance in frames between the server and a client.
	DefaultLag int32 = 200
	// InitialLead is how far ahead of the server a client starts on its first update.
	InitialLead int32 = 3

	severeOffset = 30
	largeOffset  = 15
	smallOffset  = 8
)

// Correction is the outcome of one drift evaluation.
type Correction struct {
	// Skip is set when the offset equals the lag and nothing changes.
	Skip bool
	// Reset is set on severe desync; Frame is then the new command frame.
	Reset bool
	Frame models.CommandFrame
	Speed float64
}

// Corrector adapts the client clock to the offset reported by the server.
// Offset is the client frame minus the server frame.
type Corrector struct {
	Lag int32
}

func NewCorrector(lag int32) Corrector {
	if lag == 0 {
		lag = DefaultLag
	}
	return Corrector{Lag: lag}
}

// Correct maps an offset onto a speed factor. The thresholds are asymmetric: only the
// severe branch ignores the sign.
func (c Corrector) Correct(offset int32, serverFrame models.CommandFrame) Correction {
	if offset == c.Lag {
		return Correction{Skip: true}
	}

	switch {
	case offset < -severeOffset || offset > severeOffset:
		return Correction{Reset: true, Frame: serverFrame.Add(c.Lag), Speed: 1.0}
	case offset < -largeOffset:
		return Correction{Speed: 0.875}
	case offset < 0:
		return Correction{Speed: 0.9375}
	case offset > largeOffset:
		return Correction{Speed: 1.125}
	case offset > smallOffset:
		return Correction{Speed: 1.0625}
	default:
		return Correction{Speed: 1.0}
	}
}

// Apply evaluates the offset and mutates the ticker accordingly.
func (c Corrector) Apply(t *Ticker, offset int32, serverFrame models.CommandFrame) Correction {
	correction := c.Correct(offset, serverFrame)
	if correction.Skip {
		return correction
	}
	if correction.Reset {
		t.SetCommandFrame(correction.Frame)
	}
	t.AdjustSimulation(t.DefaultSimulationSpeed() * correction.Speed)
	return correction
}
