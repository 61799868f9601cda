package models

import "github.com/shopspring/decimal"

// Source names an external data provider.
type Source string

const (
	SourceYFinance Source = "yfinance"
	SourceFRED     Source = "fred"
	SourceNYFed    Source = "ny_fed"
)

// Observation is one dated value of a series.
type Observation struct {
	Date   string                     `json:"date"`
	Value  decimal.Decimal            `json:"value"`
	Fields map[string]decimal.Decimal `json:"fields,omitempty"`
}

// Dataset is the normalized result of a fetch. Observations mirrors the only
// series when exactly one was requested.
type Dataset struct {
	Source       Source                   `json:"source"`
	Series       map[string][]Observation `json:"series"`
	Observations []Observation            `json:"observations,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`
}

// Empty reports whether no series carries observations.
func (d *Dataset) Empty() bool {
	for _, obs := range d.Series {
		if len(obs) > 0 {
			return false
		}
	}
	return true
}
