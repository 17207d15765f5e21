package detector

import "sigscan/internal/market"

// Module identifies one detector as the user configures it.
type Module string

const (
	ModuleSmartPump  Module = "sp"
	ModulePumpDump   Module = "pd"
	ModuleDivergence Module = "div"
)

// Modules lists every detector in evaluation order.
var Modules = []Module{ModuleSmartPump, ModulePumpDump, ModuleDivergence}

// SmartPumpConfig gates the Smart Pump detector. All percent fields are in
// percent units (2 means 2%).
type SmartPumpConfig struct {
	MinOIPct    float64 `mapstructure:"min_oi_pct" json:"minOiPct"`
	MinPricePct float64 `mapstructure:"min_price_pct" json:"minPricePct"`
	MaxPricePct float64 `mapstructure:"max_price_pct" json:"maxPricePct"`
	MinVolX     float64 `mapstructure:"min_vol_x" json:"minVolX"`
	StrictCVD   bool    `mapstructure:"strict_cvd" json:"strictCvd"`
}

// PumpDumpConfig gates the Pump/Dump detector.
type PumpDumpConfig struct {
	OIPct      float64 `mapstructure:"oi_pct" json:"oiPct"`
	CVDUsdMin  float64 `mapstructure:"cvd_usd_min" json:"cvdUsdMin"`
	MinBodyPct float64 `mapstructure:"min_body_pct" json:"minBodyPct"`
	MinVolX    float64 `mapstructure:"min_vol_x" json:"minVolX"`
}

// DivergenceConfig gates the RSI divergence detector.
type DivergenceConfig struct {
	RSIPeriod  int     `mapstructure:"rsi_period" json:"rsiPeriod"`
	MinDiff    float64 `mapstructure:"rsi_min_diff" json:"rsiMinDiff"`
	Overbought float64 `mapstructure:"rsi_overbought" json:"rsiOverbought"`
	Oversold   float64 `mapstructure:"rsi_oversold" json:"rsiOversold"`
	MACDFast   int     `mapstructure:"macd_fast" json:"macdFast"`
	MACDSlow   int     `mapstructure:"macd_slow" json:"macdSlow"`
	MACDSignal int     `mapstructure:"macd_signal" json:"macdSignal"`
	Strict     bool    `mapstructure:"strict" json:"strict"`
}

// UserConfig is the full per-user runtime configuration, passed by value
// into every detector call. Defaulting happens once in Normalized, never
// inside the detectors.
type UserConfig struct {
	Exchanges  []market.Exchange           `json:"exchanges"`
	Modules    []Module                    `json:"modules"`
	Timeframes map[Module]market.Timeframe `json:"timeframes"`

	SmartPump  SmartPumpConfig  `json:"sp"`
	PumpDump   PumpDumpConfig   `json:"pd"`
	Divergence DivergenceConfig `json:"div"`

	MinQuoteVolumeUsd float64 `json:"minQuoteVolumeUsd"`
}

// DefaultUserConfig returns the stock configuration new users start from.
func DefaultUserConfig() UserConfig {
	return UserConfig{
		Exchanges: []market.Exchange{market.Binance, market.Bybit},
		Modules:   []Module{ModuleSmartPump, ModulePumpDump, ModuleDivergence},
		Timeframes: map[Module]market.Timeframe{
			ModuleSmartPump:  market.TF5m,
			ModulePumpDump:   market.TF15m,
			ModuleDivergence: market.TF15m,
		},
		SmartPump: SmartPumpConfig{
			MinOIPct:    2,
			MinPricePct: 0.3,
			MaxPricePct: 15,
			MinVolX:     2,
		},
		PumpDump: PumpDumpConfig{
			OIPct:      2,
			CVDUsdMin:  100_000,
			MinBodyPct: 30,
			MinVolX:    2,
		},
		Divergence: DivergenceConfig{
			RSIPeriod:  14,
			MinDiff:    6,
			Overbought: 70,
			Oversold:   30,
			MACDFast:   12,
			MACDSlow:   26,
			MACDSignal: 9,
			Strict:     true,
		},
		MinQuoteVolumeUsd: 50_000_000,
	}
}

// Normalized fills every missing or invalid field from the defaults and
// resolves unknown timeframes to the documented fallback. Loaded settings
// pass through here exactly once.
func (c UserConfig) Normalized() UserConfig {
	def := DefaultUserConfig()

	if len(c.Exchanges) == 0 {
		c.Exchanges = def.Exchanges
	} else {
		// Filter into a fresh slice; the caller's backing array stays intact.
		kept := make([]market.Exchange, 0, len(c.Exchanges))
		for _, ex := range c.Exchanges {
			if ex.IsValid() {
				kept = append(kept, ex)
			}
		}
		c.Exchanges = kept
	}

	if len(c.Modules) == 0 {
		c.Modules = def.Modules
	}

	tfs := make(map[Module]market.Timeframe, len(Modules))
	for _, mod := range Modules {
		tf, ok := c.Timeframes[mod]
		if !ok {
			tf = def.Timeframes[mod]
		}
		if !tf.IsValid() {
			tf = market.DefaultTimeframe
		}
		tfs[mod] = tf
	}
	c.Timeframes = tfs

	if c.SmartPump.MinOIPct <= 0 {
		c.SmartPump.MinOIPct = def.SmartPump.MinOIPct
	}
	if c.SmartPump.MinPricePct <= 0 {
		c.SmartPump.MinPricePct = def.SmartPump.MinPricePct
	}
	if c.SmartPump.MaxPricePct <= 0 {
		c.SmartPump.MaxPricePct = def.SmartPump.MaxPricePct
	}
	if c.SmartPump.MinVolX <= 0 {
		c.SmartPump.MinVolX = def.SmartPump.MinVolX
	}
	if c.PumpDump.OIPct <= 0 {
		c.PumpDump.OIPct = def.PumpDump.OIPct
	}
	if c.PumpDump.MinBodyPct <= 0 {
		c.PumpDump.MinBodyPct = def.PumpDump.MinBodyPct
	}
	if c.PumpDump.MinVolX <= 0 {
		c.PumpDump.MinVolX = def.PumpDump.MinVolX
	}
	if c.Divergence.RSIPeriod <= 0 {
		c.Divergence.RSIPeriod = def.Divergence.RSIPeriod
	}
	if c.Divergence.MinDiff <= 0 {
		c.Divergence.MinDiff = def.Divergence.MinDiff
	}
	if c.Divergence.Overbought <= 0 {
		c.Divergence.Overbought = def.Divergence.Overbought
	}
	if c.Divergence.Oversold <= 0 {
		c.Divergence.Oversold = def.Divergence.Oversold
	}
	if c.Divergence.MACDFast <= 0 {
		c.Divergence.MACDFast = def.Divergence.MACDFast
	}
	if c.Divergence.MACDSlow <= 0 {
		c.Divergence.MACDSlow = def.Divergence.MACDSlow
	}
	if c.Divergence.MACDSignal <= 0 {
		c.Divergence.MACDSignal = def.Divergence.MACDSignal
	}
	if c.MinQuoteVolumeUsd <= 0 {
		c.MinQuoteVolumeUsd = def.MinQuoteVolumeUsd
	}
	return c
}

// ModuleEnabled reports whether the user switched mod on.
func (c UserConfig) ModuleEnabled(mod Module) bool {
	for _, m := range c.Modules {
		if m == mod {
			return true
		}
	}
	return false
}

// ExchangeEnabled reports whether the user switched ex on.
func (c UserConfig) ExchangeEnabled(ex market.Exchange) bool {
	for _, e := range c.Exchanges {
		if e == ex {
			return true
		}
	}
	return false
}
