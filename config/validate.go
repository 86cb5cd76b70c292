package config

import (
	"errors"
	"fmt"
	"time"

	"cross-maker-go/leg"
)

var ErrInvalidConfig = errors.New("invalid config")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present. 除数为 0 的参数直接拒绝启动。
func Validate(cfg AppConfig) error {
	switch cfg.Mode {
	case ModeLive, ModePaper, ModeBacktest:
	default:
		return invalid("mode must be live, paper or backtest, got %q", cfg.Mode)
	}

	simulated := cfg.Mode != ModeLive
	for _, id := range leg.All {
		if err := validateLeg(id, cfg.Legs.Leg(id), simulated); err != nil {
			return err
		}
	}

	s := cfg.Strategy
	if s.SignalVector[0] == 0 || s.SignalVector[1] == 0 {
		return invalid("strategy.signalVector components must be non-zero")
	}
	if s.TradingVector[0] == 0 || s.TradingVector[1] == 0 {
		return invalid("strategy.tradingVector components must be non-zero")
	}
	if s.Margin <= 0 {
		return invalid("strategy.margin must be > 0")
	}
	if s.Stepback <= 0 {
		return invalid("strategy.stepback must be > 0")
	}
	if s.Epsilon < 0 || s.Epsilon >= 1 {
		return invalid("strategy.epsilon must be in [0,1)")
	}
	if s.TypicalOrderSize <= 0 {
		return invalid("strategy.typicalOrderSize must be > 0")
	}
	if cfg.Risk.NC2L <= 0 {
		return invalid("risk.nc2l must be > 0")
	}
	if cfg.Risk.KillSwitchMaxDrawdown < 0 {
		return invalid("risk.killSwitchMaxDrawdown must be >= 0")
	}
	if cfg.Timers.LockSweep <= 0 || cfg.Timers.AccountRefresh <= 0 {
		return invalid("timers must be > 0")
	}

	switch cfg.Mode {
	case ModeLive, ModePaper:
		if cfg.Gateway.WebsocketURL == "" {
			return invalid("gateway.websocketURL is required in %s mode", cfg.Mode)
		}
	case ModeBacktest:
		if err := validateBacktest(cfg.Backtest); err != nil {
			return err
		}
	}
	if cfg.Database.Driver != "" && cfg.Database.Driver != "postgres" && cfg.Database.Driver != "sqlite" {
		return invalid("database.driver must be postgres or sqlite")
	}
	return nil
}

func validateLeg(l leg.ID, c LegConfig, simulated bool) error {
	id := "a"
	if l == leg.B {
		id = "b"
	}
	if c.Exchange == "" || c.Symbol == "" {
		return invalid("legs.%s exchange/symbol is required", id)
	}
	if c.PriceIncrement < 0 || c.QuantityIncrement < 0 || c.ContractSize < 0 {
		return invalid("legs.%s increments must be >= 0", id)
	}
	if simulated {
		// 模拟交易所以配置的合约信息回应 GET_INSTRUMENT
		if c.PriceIncrement == 0 || c.QuantityIncrement == 0 {
			return invalid("legs.%s priceIncrement/quantityIncrement are required for simulation", id)
		}
		if c.BaseAsset == "" || c.QuoteAsset == "" {
			return invalid("legs.%s baseAsset/quoteAsset are required for simulation", id)
		}
	}
	// maker 费率允许为负（返佣）
	if c.Fees.Maker <= -1 || c.Fees.Maker >= 1 || c.Fees.Taker < 0 || c.Fees.Taker >= 1 {
		return invalid("legs.%s fees out of range", id)
	}
	if c.MarketImpactFactor < 0 {
		return invalid("legs.%s marketImpactFactor must be >= 0", id)
	}
	if c.RateLimit <= 0 || c.Burst <= 0 {
		return invalid("legs.%s rateLimit/burst must be > 0", id)
	}
	return nil
}

func validateBacktest(b BacktestConfig) error {
	if b.Directory == "" {
		return invalid("backtest.directory is required")
	}
	start, err := time.Parse(time.DateOnly, b.StartDate)
	if err != nil {
		return invalid("backtest.startDate: %v", err)
	}
	end, err := time.Parse(time.DateOnly, b.EndDate)
	if err != nil {
		return invalid("backtest.endDate: %v", err)
	}
	if end.Before(start) {
		return invalid("backtest.endDate before startDate")
	}
	if b.StartTime < 0 || b.StartTime >= 24*time.Hour || b.Duration < 0 {
		return invalid("backtest.startTime/duration out of range")
	}
	return nil
}
