package structure

import (
	"errors"
	"fmt"

	"OBFlow/internal/domain/models"
)

// ErrStateCorrupt indicates a classifier invariant violation. It is fatal
// for the owning symbol lane.
var ErrStateCorrupt = errors.New("structure state corrupt")

// Classifier labels each closed candle against the prevailing trend.
// It is the only writer of the per-symbol StructureState.
type Classifier struct {
	state models.StructureState

	// Armed break levels. Cleared once broken; refreshed by the next
	// confirmed swing of that kind.
	armedHigh *models.SwingPoint
	armedLow  *models.SwingPoint
}

func NewClassifier() *Classifier {
	return &Classifier{state: models.StructureState{Trend: models.Undetermined}}
}

// State returns a copy of the authoritative structure state.
func (cl *Classifier) State() models.StructureState { return cl.state }

// OnSwing records a newly confirmed swing point.
func (cl *Classifier) OnSwing(sp models.SwingPoint) {
	p := sp
	if sp.Kind == models.SwingHigh {
		cl.state.LastHigh = &p
		cl.armedHigh = &p
	} else {
		cl.state.LastLow = &p
		cl.armedLow = &p
	}
}

// Classify inspects one closed candle and returns at most one structural
// event. A close exactly at the swing level does not break it.
func (cl *Classifier) Classify(c *models.Candle, bar int) (models.StructureEvent, error) {
	none := models.StructureEvent{Kind: models.StructureNone, Trend: cl.state.Trend}

	brokeHigh := cl.armedHigh != nil && c.Close > cl.armedHigh.Price
	brokeLow := cl.armedLow != nil && c.Close < cl.armedLow.Price
	if !brokeHigh && !brokeLow {
		return none, nil
	}
	// A single candle closing beyond both confirmed swings means the
	// swing bookkeeping is broken.
	if brokeHigh && brokeLow {
		return none, fmt.Errorf("%w: close %.8f beyond both swings", ErrStateCorrupt, c.Close)
	}

	var (
		broken models.SwingPoint
		dir    models.Direction
	)
	if brokeHigh {
		broken = *cl.armedHigh
		cl.armedHigh = nil
		dir = models.Bullish
	} else {
		broken = *cl.armedLow
		cl.armedLow = nil
		dir = models.Bearish
	}

	kind := models.StructureCHoCH
	if cl.state.Trend == dir {
		kind = models.StructureBOS
	}

	prev := cl.state.Trend
	cl.state.Trend = dir
	cl.state.LastEventKind = kind
	cl.state.LastEventBar = bar

	// Trend may only change on a CHoCH.
	if kind == models.StructureBOS && prev != dir {
		return none, fmt.Errorf("%w: trend changed on BOS", ErrStateCorrupt)
	}

	return models.StructureEvent{
		Kind:        kind,
		Trend:       dir,
		BrokenSwing: broken,
		Bar:         bar,
		Price:       c.Close,
		Time:        c.StartTime,
	}, nil
}
