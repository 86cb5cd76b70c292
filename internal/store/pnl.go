package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cross-maker-go/internal/engine"
	"cross-maker-go/leg"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// PnLRecord 一次汇总的落库行。
type PnLRecord struct {
	ID                uint      `gorm:"primaryKey"`
	RunID             string    `gorm:"index;size:64"`
	Mode              string    `gorm:"size:16"`
	RecordedAt        time.Time `gorm:"index"`
	PeriodStart       time.Time
	PeriodEnd         time.Time
	BaseA             float64
	QuoteA            float64
	PositionA         float64
	BaseB             float64
	QuoteB            float64
	PositionB         float64
	MidA              float64
	MidB              float64
	UnrealizedPnLA    float64
	UnrealizedPnLB    float64
	TotalValue        float64
	Peak              float64
	Drawdown          float64
	StopLossTriggered bool
	TheoreticalPrice  float64
	FillsA            int64
	FillsB            int64
	MakerFillsA       int64
	MakerFillsB       int64
	FeesQuoteA        float64
	FeesQuoteB        float64
	VolumeQuoteA      float64
	VolumeQuoteB      float64
}

func (PnLRecord) TableName() string { return "pnl_snapshots" }

// PnLExporter 把引擎汇总写入 postgres（或 sqlite）。
type PnLExporter struct {
	db    *gorm.DB
	runID string
	mode  string
}

// OpenDB 按驱动名打开数据库。
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// NewPnLExporter 自动建表。
func NewPnLExporter(db *gorm.DB, runID, mode string) (*PnLExporter, error) {
	if err := db.AutoMigrate(&PnLRecord{}); err != nil {
		return nil, fmt.Errorf("migrate pnl table: %w", err)
	}
	return &PnLExporter{db: db, runID: runID, mode: mode}, nil
}

// Export 写入一条汇总。
func (p *PnLExporter) Export(ctx context.Context, s engine.Summary) error {
	rec := recordFromSummary(s)
	rec.RunID = p.runID
	rec.Mode = p.mode
	rec.RecordedAt = time.Now().UTC()
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert pnl snapshot: %w", err)
	}
	return nil
}

// History 按写入顺序返回某次运行的记录，runID 为空时返回全部。
func (p *PnLExporter) History(ctx context.Context, runID string, since time.Time) ([]PnLRecord, error) {
	q := p.db.WithContext(ctx).Order("id")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if !since.IsZero() {
		q = q.Where("recorded_at >= ?", since.UTC())
	}
	var out []PnLRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query pnl snapshots: %w", err)
	}
	return out, nil
}

// Close 关闭连接池。
func (p *PnLExporter) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordFromSummary(s engine.Summary) PnLRecord {
	a, b := s.Ledgers[leg.A], s.Ledgers[leg.B]
	return PnLRecord{
		PeriodStart:       s.Start,
		PeriodEnd:         s.End,
		BaseA:             a.Base,
		QuoteA:            a.Quote,
		PositionA:         a.Position,
		BaseB:             b.Base,
		QuoteB:            b.Quote,
		PositionB:         b.Position,
		MidA:              s.Mids[leg.A],
		MidB:              s.Mids[leg.B],
		UnrealizedPnLA:    s.UnrealizedPnL[leg.A],
		UnrealizedPnLB:    s.UnrealizedPnL[leg.B],
		TotalValue:        s.TotalValue,
		Peak:              s.Peak,
		Drawdown:          s.Drawdown,
		StopLossTriggered: s.StopLossTriggered,
		TheoreticalPrice:  s.TheoreticalPrice,
		FillsA:            s.Fills[leg.A],
		FillsB:            s.Fills[leg.B],
		MakerFillsA:       s.MakerFills[leg.A],
		MakerFillsB:       s.MakerFills[leg.B],
		FeesQuoteA:        a.FeeQuote,
		FeesQuoteB:        b.FeeQuote,
		VolumeQuoteA:      a.VolumeQuote,
		VolumeQuoteB:      b.VolumeQuote,
	}
}
