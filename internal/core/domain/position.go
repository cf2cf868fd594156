package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// negligibleSize is the threshold below which a position is treated as closed.
// Venues leave dust-sized remainders after partial fills.
var negligibleSize = decimal.NewFromFloat(0.000001)

// Position is the venue's view of an open position.
type Position struct {
	Market string          `json:"market"`
	Side   PositionSide    `json:"side"`
	Size   decimal.Decimal `json:"size"`
}

// Negligible reports whether the position is effectively closed.
func (p *Position) Negligible() bool {
	return p.Size.Abs().LessThan(negligibleSize)
}
