package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPurposeOf(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		want  Purpose
		taker bool
	}{
		{"报价单", NewClientID(PurposeQuote), PurposeQuote, false},
		{"对冲单", NewClientID(PurposeHedge), PurposeHedge, true},
		{"平仓单", NewClientID(PurposeLiquidation), PurposeLiquidation, true},
		{"再平衡单", NewClientID(PurposeRebalance), PurposeRebalance, true},
		{"初始单", NewClientID(PurposeInit), PurposeInit, true},
		{"外部订单号", "web-123", "", false},
		{"无前缀", "123456", "", false},
		{"空", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PurposeOf(tt.id)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.taker, got.Taker())
		})
	}
}

func TestNewClientIDLength(t *testing.T) {
	id := NewClientID(PurposeLiquidation)
	assert.Len(t, id, 35)
	assert.NotEqual(t, id, NewClientID(PurposeLiquidation))
}
