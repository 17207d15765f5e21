package market

import "time"

// Side is the trade direction suggested by a detector.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SignalKind names the detector that produced a signal.
type SignalKind string

const (
	KindSmartPump  SignalKind = "smart_pump"
	KindPumpDump   SignalKind = "pump_dump"
	KindDivergence SignalKind = "divergence"
)

// SignalDetail carries detector-specific measurements attached to a signal.
// Fields not set by a given detector stay at their zero value.
type SignalDetail struct {
	Timeframe      Timeframe `json:"timeframe"`
	VolMult        float64   `json:"volMult"`
	PriceChangePct float64   `json:"priceChangePct,omitempty"`
	BodyPct        float64   `json:"bodyPct,omitempty"`
	OIPct          float64   `json:"oiPct,omitempty"`
	TotalOIUsd     float64   `json:"totalOiUsd,omitempty"`
	CVDUsd         float64   `json:"cvdUsd,omitempty"`
	RSINow         float64   `json:"rsiNow,omitempty"`
	RSIPrev        float64   `json:"rsiPrev,omitempty"`
	Lookback       int       `json:"lookback,omitempty"`
	Strict         bool      `json:"strict,omitempty"`
}

// Signal is one detected tradable condition, handed to the notifier after
// deduplication.
type Signal struct {
	ID       string       `json:"id"`
	Exchange Exchange     `json:"exchange"`
	Symbol   string       `json:"symbol"`
	Side     Side         `json:"side"`
	Kind     SignalKind   `json:"kind"`
	Price    float64      `json:"price"`
	Time     time.Time    `json:"time"`
	Detail   SignalDetail `json:"detail"`
}
