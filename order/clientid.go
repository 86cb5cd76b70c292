package order

import (
	"strings"

	"github.com/google/uuid"
)

// Purpose 客户端订单号前缀，用来区分同一 CREATE_ORDER 动作下的不同订单用途。
type Purpose string

const (
	PurposeQuote       Purpose = "mq"
	PurposeHedge       Purpose = "hg"
	PurposeLiquidation Purpose = "lq"
	PurposeRebalance   Purpose = "rb"
	PurposeInit        Purpose = "io"
)

// NewClientID 生成 "前缀-32位十六进制" 形式的订单号，长度不超过 36。
func NewClientID(p Purpose) string {
	return string(p) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// PurposeOf 解析订单号用途；不是本进程生成的订单号返回空。
func PurposeOf(clientID string) Purpose {
	prefix, _, ok := strings.Cut(clientID, "-")
	if !ok {
		return ""
	}
	switch p := Purpose(prefix); p {
	case PurposeQuote, PurposeHedge, PurposeLiquidation, PurposeRebalance, PurposeInit:
		return p
	}
	return ""
}

// Taker 吃单用途（对冲、平仓、再平衡、初始单）。
func (p Purpose) Taker() bool {
	switch p {
	case PurposeHedge, PurposeLiquidation, PurposeRebalance, PurposeInit:
		return true
	}
	return false
}
