package leg

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Instrument 描述一条腿上交易的合约。
type Instrument struct {
	Exchange          string
	Symbol            string // REST 下单使用的名称
	WebsocketSymbol   string // 行情/websocket 使用的名称，空则同 Symbol
	BaseAsset         string
	QuoteAsset        string
	PriceIncrement    float64
	QuantityIncrement float64
	// ContractSize 单张合约面值；为 0 时按 QuantityIncrement 处理。
	ContractSize float64
	// Inverse 反向合约（币本位），数量以美元面值计。
	Inverse bool
	// ContractDenominated 数量以张数计。
	ContractDenominated bool
	MinQuantity         float64
}

// Resolved 价格与数量步长均已就绪。
func (i Instrument) Resolved() bool {
	return i.PriceIncrement > 0 && i.QuantityIncrement > 0
}

// StreamSymbol 返回订阅行情使用的名称。
func (i Instrument) StreamSymbol() string {
	if i.WebsocketSymbol != "" {
		return i.WebsocketSymbol
	}
	return i.Symbol
}

func (i Instrument) contractSize() float64 {
	if i.ContractSize > 0 {
		return i.ContractSize
	}
	return i.QuantityIncrement
}

// Notional 返回数量 qty 在 price 下的美元价值（带符号）。
func (i Instrument) Notional(qty, price float64) float64 {
	q := qty
	if i.ContractDenominated {
		q *= i.contractSize()
	}
	if i.Inverse {
		return q
	}
	return q * price
}

// QuantityForNotional 将美元名义价值换算为下单数量（未取整）。
func (i Instrument) QuantityForNotional(usd, price float64) float64 {
	q := usd
	if !i.Inverse {
		if price <= 0 {
			return 0
		}
		q = usd / price
	}
	if i.ContractDenominated {
		if cs := i.contractSize(); cs > 0 {
			q /= cs
		}
	}
	return q
}

// BaseQuantity 返回成交对应的基础资产数量（美元名义 / 价格）。
func (i Instrument) BaseQuantity(qty, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return i.Notional(qty, price) / price
}

// RoundPriceUp 价格向上取整到最小变动价位。
func (i Instrument) RoundPriceUp(p float64) float64 {
	return ceilToIncrement(p, i.PriceIncrement)
}

// RoundPriceDown 价格向下取整到最小变动价位。
func (i Instrument) RoundPriceDown(p float64) float64 {
	return floorToIncrement(p, i.PriceIncrement)
}

// RoundQuantityDown 数量向下取整到步长。
func (i Instrument) RoundQuantityDown(q float64) float64 {
	return floorToIncrement(q, i.QuantityIncrement)
}

// Validate 检查价格/数量是否与步长对齐。
func (i Instrument) Validate(price, qty float64) error {
	if price > 0 && i.PriceIncrement > 0 && !isMultiple(price, i.PriceIncrement) {
		return fmt.Errorf("price %.8f not aligned to priceIncrement %.8f", price, i.PriceIncrement)
	}
	if i.QuantityIncrement > 0 && !isMultiple(qty, i.QuantityIncrement) {
		return fmt.Errorf("qty %.8f not aligned to quantityIncrement %.8f", qty, i.QuantityIncrement)
	}
	if i.MinQuantity > 0 && qty < i.MinQuantity {
		return fmt.Errorf("qty %.8f < minQuantity %.8f", qty, i.MinQuantity)
	}
	return nil
}

// CeilToIncrement 向上取整到 inc 的整数倍；inc<=0 时原样返回。
func CeilToIncrement(v, inc float64) float64 { return ceilToIncrement(v, inc) }

// FloorToIncrement 向下取整到 inc 的整数倍；inc<=0 时原样返回。
func FloorToIncrement(v, inc float64) float64 { return floorToIncrement(v, inc) }

// 使用十进制运算，避免 100.2/0.1 之类的浮点误差导致多进一档。
func ceilToIncrement(v, inc float64) float64 {
	if inc <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	step := decimal.NewFromFloat(inc)
	return decimal.NewFromFloat(v).Div(step).Ceil().Mul(step).InexactFloat64()
}

func floorToIncrement(v, inc float64) float64 {
	if inc <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	step := decimal.NewFromFloat(inc)
	return decimal.NewFromFloat(v).Div(step).Floor().Mul(step).InexactFloat64()
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(step))
	return ratio.Equal(ratio.Round(0))
}
