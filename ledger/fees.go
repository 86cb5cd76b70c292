package ledger

import "cross-maker-go/leg"

// FeeSchedule 单腿费率及各场景下的收费币种。
type FeeSchedule struct {
	MakerRate        float64
	TakerRate        float64
	MakerBuyerAsset  string
	MakerSellerAsset string
	TakerBuyerAsset  string
	TakerSellerAsset string
}

// Fee 计算一笔成交的手续费数额及币种。
// 币种为基础资产时按基础数量计费，否则按美元名义价值计费。
func (f FeeSchedule) Fee(inst leg.Instrument, side leg.Side, isMaker bool, qty, price float64) (float64, string) {
	rate, asset := f.TakerRate, f.TakerSellerAsset
	switch {
	case isMaker && side == leg.Buy:
		rate, asset = f.MakerRate, f.MakerBuyerAsset
	case isMaker:
		rate, asset = f.MakerRate, f.MakerSellerAsset
	case side == leg.Buy:
		asset = f.TakerBuyerAsset
	}
	if asset == "" {
		asset = inst.QuoteAsset
	}
	if rate == 0 {
		return 0, asset
	}
	if asset == inst.BaseAsset {
		return inst.BaseQuantity(qty, price) * rate, asset
	}
	return inst.Notional(qty, price) * rate, asset
}
