package models

import "github.com/shopspring/decimal"

type SizingMode string

const (
	SizingPercentage SizingMode = "percentage"
	SizingFlatValue  SizingMode = "flat_value"
)

func ParseSizingMode(s string) SizingMode {
	if SizingMode(s) == SizingFlatValue {
		return SizingFlatValue
	}
	return SizingPercentage
}

type Sizing struct {
	Mode      SizingMode      `json:"size_mode"`
	Percent   decimal.Decimal `json:"perc_balance_operation"`
	FlatValue decimal.Decimal `json:"flat_value"`
}

// Fraction приводит процент к доле: значения больше 1 считаются пунктами.
func (s Sizing) Fraction() decimal.Decimal {
	if s.Percent.GreaterThan(decimal.NewFromInt(1)) {
		return s.Percent.Div(decimal.NewFromInt(100))
	}
	return s.Percent
}

type StrategyConfig struct {
	StrategyID              int64
	Symbol                  string
	Side                    Side
	Sizing                  Sizing
	ConditionLimit          int
	IntervalMinutes         float64
	MaxSimultaneousSameSide int
}

// Normalize применяет правила стороны: продажа всегда одна.
func (s *StrategyConfig) Normalize() {
	if s.Side == SideSell || s.MaxSimultaneousSameSide < 1 {
		s.MaxSimultaneousSameSide = 1
	}
	if s.ConditionLimit < 1 {
		s.ConditionLimit = 1
	}
}
