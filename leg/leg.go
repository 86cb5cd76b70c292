// Package leg 定义双腿做市中的腿标识、方向与合约元数据。
package leg

import (
	"errors"
	"fmt"
)

// ID 标识两条腿之一。
type ID int

const (
	A ID = iota
	B
)

// All 按固定顺序列出两条腿，便于遍历。
var All = [2]ID{A, B}

// ErrUnknownLeg 无法识别的腿标识。
var ErrUnknownLeg = errors.New("unknown leg")

func (l ID) String() string {
	switch l {
	case A:
		return "prodA"
	case B:
		return "prodB"
	default:
		return fmt.Sprintf("leg(%d)", int(l))
	}
}

// Other 返回另一条腿。
func (l ID) Other() ID {
	if l == A {
		return B
	}
	return A
}

// Valid 是否为合法腿。
func (l ID) Valid() bool { return l == A || l == B }

// Parse 解析 prodA/prodB（也接受 A/B）。
func Parse(s string) (ID, error) {
	switch s {
	case "prodA", "A", "a":
		return A, nil
	case "prodB", "B", "b":
		return B, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLeg, s)
}

func (l ID) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLeg, int(l))
	}
	return []byte(l.String()), nil
}

func (l *ID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Side 订单方向。
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign 买为 +1，卖为 -1。
func (s Side) Sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

// SideForDelta 根据数量符号返回方向。
func SideForDelta(delta float64) Side {
	if delta < 0 {
		return Sell
	}
	return Buy
}
