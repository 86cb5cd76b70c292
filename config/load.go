package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cross-maker-go/infrastructure/logger"
	"cross-maker-go/leg"
	"cross-maker-go/ledger"
)

// 运行模式
const (
	ModeLive     = "live"
	ModePaper    = "paper"
	ModeBacktest = "backtest"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Mode        string         `yaml:"mode"`
	Legs        LegsConfig     `yaml:"legs"`
	Strategy    StrategyConfig `yaml:"strategy"`
	Risk        RiskConfig     `yaml:"risk"`
	Timers      TimersConfig   `yaml:"timers"`
	Backtest    BacktestConfig `yaml:"backtest"`
	Gateway     GatewayConfig  `yaml:"gateway"`
	Results     ResultsConfig  `yaml:"results"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Alert       AlertConfig    `yaml:"alert"`
	Log         logger.Config  `yaml:"log"`
	MetricsAddr string         `yaml:"metricsAddr"`
}

type LegsConfig struct {
	A LegConfig `yaml:"a"`
	B LegConfig `yaml:"b"`
}

// Leg 按 leg.ID 取配置。
func (l LegsConfig) Leg(id leg.ID) LegConfig {
	if id == leg.B {
		return l.B
	}
	return l.A
}

// LegConfig 单条腿的合约、手续费与模拟参数。
// 步长为 0 时以交易所 GET_INSTRUMENT 的响应为准。
type LegConfig struct {
	Exchange            string  `yaml:"exchange"`
	Symbol              string  `yaml:"symbol"`
	WebsocketSymbol     string  `yaml:"websocketSymbol"`
	BaseAsset           string  `yaml:"baseAsset"`
	QuoteAsset          string  `yaml:"quoteAsset"`
	PriceIncrement      float64 `yaml:"priceIncrement"`
	QuantityIncrement   float64 `yaml:"quantityIncrement"`
	ContractSize        float64 `yaml:"contractSize"`
	Inverse             bool    `yaml:"inverse"`
	ContractDenominated bool    `yaml:"contractDenominated"`
	MinQuantity         float64 `yaml:"minQuantity"`

	Fees FeesConfig `yaml:"fees"`

	// 模拟/回测使用
	InitialBase        float64 `yaml:"initialBase"`
	InitialQuote       float64 `yaml:"initialQuote"`
	MarketImpactFactor float64 `yaml:"marketImpactFactor"`

	UseWebsocketOrders bool    `yaml:"useWebsocketOrders"`
	UseGetAccounts     bool    `yaml:"useGetAccounts"`
	RateLimit          float64 `yaml:"rateLimit"` // 每秒请求数
	Burst              int     `yaml:"burst"`
}

// Instrument 转换为 leg.Instrument。
func (c LegConfig) Instrument() leg.Instrument {
	return leg.Instrument{
		Exchange:            c.Exchange,
		Symbol:              c.Symbol,
		WebsocketSymbol:     c.WebsocketSymbol,
		BaseAsset:           c.BaseAsset,
		QuoteAsset:          c.QuoteAsset,
		PriceIncrement:      c.PriceIncrement,
		QuantityIncrement:   c.QuantityIncrement,
		ContractSize:        c.ContractSize,
		Inverse:             c.Inverse,
		ContractDenominated: c.ContractDenominated,
		MinQuantity:         c.MinQuantity,
	}
}

type FeesConfig struct {
	Maker            float64 `yaml:"maker"`
	Taker            float64 `yaml:"taker"`
	MakerBuyerAsset  string  `yaml:"makerBuyerAsset"`
	MakerSellerAsset string  `yaml:"makerSellerAsset"`
	TakerBuyerAsset  string  `yaml:"takerBuyerAsset"`
	TakerSellerAsset string  `yaml:"takerSellerAsset"`
}

func (f FeesConfig) Schedule() ledger.FeeSchedule {
	return ledger.FeeSchedule{
		MakerRate:        f.Maker,
		TakerRate:        f.Taker,
		MakerBuyerAsset:  f.MakerBuyerAsset,
		MakerSellerAsset: f.MakerSellerAsset,
		TakerBuyerAsset:  f.TakerBuyerAsset,
		TakerSellerAsset: f.TakerSellerAsset,
	}
}

type StrategyConfig struct {
	SignalVector       [2]float64 `yaml:"signalVector"`
	TradingVector      [2]float64 `yaml:"tradingVector"`
	Margin             float64    `yaml:"margin"`
	Stepback           float64    `yaml:"stepback"`
	Epsilon            float64    `yaml:"epsilon"`
	TypicalOrderSize   float64    `yaml:"typicalOrderSize"` // 美元
	EnableMarketMaking bool       `yaml:"enableMarketMaking"`
	PostOnly           bool       `yaml:"postOnly"` // 报价单带 post-only 标志，默认关闭
}

type RiskConfig struct {
	NC2L                  float64 `yaml:"nc2l"`
	KillSwitchMaxDrawdown float64 `yaml:"killSwitchMaxDrawdown"` // 0 表示关闭
}

type TimersConfig struct {
	LockSweep      time.Duration `yaml:"lockSweep"`
	AccountRefresh time.Duration `yaml:"accountRefresh"`
}

// BacktestConfig 历史行情回放参数，日期格式 YYYY-MM-DD。
type BacktestConfig struct {
	StartDate  string        `yaml:"startDate"`
	EndDate    string        `yaml:"endDate"`
	StartTime  time.Duration `yaml:"startTime"` // 每日起始偏移
	Duration   time.Duration `yaml:"duration"`  // 0 表示整日
	Directory  string        `yaml:"directory"`
	FilePrefix string        `yaml:"filePrefix"`
	FileSuffix string        `yaml:"fileSuffix"`
}

type GatewayConfig struct {
	WebsocketURL string `yaml:"websocketURL"`
	RestURL      string `yaml:"restURL"`
	APIKey       string `yaml:"apiKey"`
	APISecret    string `yaml:"apiSecret"`
}

type ResultsConfig struct {
	Directory        string `yaml:"directory"`
	Prefix           string `yaml:"prefix"`
	OnlyFinalSummary bool   `yaml:"onlyFinalSummary"`
}

type DatabaseConfig struct {
	Driver         string        `yaml:"driver"` // postgres | sqlite
	DSN            string        `yaml:"dsn"`
	ExportInterval time.Duration `yaml:"exportInterval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type AlertConfig struct {
	Throttle   time.Duration `yaml:"throttle"`
	WebhookURL string        `yaml:"webhookURL"`
}

// Reloadable 可热更新的参数。
type Reloadable struct {
	TypicalOrderSize      float64
	NC2L                  float64
	KillSwitchMaxDrawdown float64
}

func (c AppConfig) Reloadable() Reloadable {
	return Reloadable{
		TypicalOrderSize:      c.Strategy.TypicalOrderSize,
		NC2L:                  c.Risk.NC2L,
		KillSwitchMaxDrawdown: c.Risk.KillSwitchMaxDrawdown,
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Mode == "" {
		cfg.Mode = ModePaper
	}
	if cfg.Strategy.Epsilon == 0 {
		cfg.Strategy.Epsilon = 1e-5
	}
	if cfg.Timers.LockSweep == 0 {
		cfg.Timers.LockSweep = 180 * time.Second
	}
	if cfg.Timers.AccountRefresh == 0 {
		cfg.Timers.AccountRefresh = 6 * time.Hour
	}
	if cfg.Alert.Throttle == 0 {
		cfg.Alert.Throttle = 5 * time.Minute
	}
	if cfg.Database.ExportInterval == 0 {
		cfg.Database.ExportInterval = time.Hour
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = "cross-maker:state"
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	for _, lc := range []*LegConfig{&cfg.Legs.A, &cfg.Legs.B} {
		if lc.RateLimit == 0 {
			lc.RateLimit = 10
		}
		if lc.Burst == 0 {
			lc.Burst = 20
		}
	}
}

// Load reads YAML config from path, applies defaults and validates.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
// envFile 存在时先加载（不覆盖已有环境变量）。
func LoadWithEnvOverrides(path, envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("MM_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("MM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MM_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MM_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alert.WebhookURL = v
	}
	return cfg, Validate(cfg)
}
