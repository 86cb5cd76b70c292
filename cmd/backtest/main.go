package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cross-maker-go/config"
	"cross-maker-go/internal/container"
	"cross-maker-go/internal/engine"
	"cross-maker-go/leg"
)

type summary struct {
	Config string
	RunID  string
	engine.Summary
	Rows         int64
	ReplayEvents int64
}

// 配置驱动的回测脚本，支持一次跑多份配置（参数扫描）。
// 用法：
//
//	go run ./cmd/backtest -config configs/bt_a.yaml,configs/bt_b.yaml -start 2024-03-01 -end 2024-03-07 -out summaries.csv
func main() {
	cfgPaths := flag.String("config", "configs/backtest.yaml", "配置文件路径，逗号分隔")
	envFile := flag.String("env", "", "环境变量文件")
	start := flag.String("start", "", "覆盖 backtest.startDate")
	end := flag.String("end", "", "覆盖 backtest.endDate")
	outPath := flag.String("out", "", "若指定则写入 CSV 汇总")
	flag.Parse()

	action, err := engine.ParseStartupAction(flag.Args())
	if err != nil {
		log.Fatalf("解析启动动作失败: %v", err)
	}

	paths := parseList(*cfgPaths)
	if len(paths) == 0 {
		log.Fatal("未指定任何配置文件")
	}

	var summaries []summary
	for _, path := range paths {
		s, err := run(path, *envFile, *start, *end, action)
		if err != nil {
			log.Printf("配置 %s 回测失败: %v", path, err)
			continue
		}
		log.Printf("config=%s events=%d totalValue=%.4f peak=%.4f maxDD=%.4f fillsA=%d fillsB=%d theo=%.4f",
			path, s.Events, s.TotalValue, s.Peak, s.Drawdown, s.Fills[leg.A], s.Fills[leg.B], s.TheoreticalPrice)
		summaries = append(summaries, s)
	}

	if *outPath != "" {
		if err := writeSummaryCSV(*outPath, summaries); err != nil {
			log.Printf("写入汇总 CSV 失败: %v", err)
		} else {
			log.Printf("已写入汇总: %s", *outPath)
		}
	}
}

func run(path, envFile, start, end string, action engine.StartupAction) (summary, error) {
	cfg, err := config.LoadWithEnvOverrides(path, envFile)
	if err != nil {
		return summary{}, err
	}
	cfg.Mode = config.ModeBacktest
	if start != "" {
		cfg.Backtest.StartDate = start
	}
	if end != "" {
		cfg.Backtest.EndDate = end
	}
	if err := config.Validate(cfg); err != nil {
		return summary{}, err
	}

	runID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "_" + cfg.Backtest.StartDate + "_" + cfg.Backtest.EndDate
	c := container.NewWithConfig(cfg, container.Options{Startup: action, RunID: runID})
	if err := c.Build(); err != nil {
		return summary{}, err
	}
	if err := c.Start(context.Background()); err != nil {
		_ = c.Stop()
		return summary{}, err
	}
	s, err := c.Summary()
	if err != nil {
		_ = c.Stop()
		return summary{}, err
	}
	rs := c.ReplayStats()
	if err := c.Stop(); err != nil {
		log.Printf("配置 %s 停止时出现错误: %v", path, err)
	}
	return summary{Config: path, RunID: runID, Summary: s, Rows: rs.Rows, ReplayEvents: rs.Events}, nil
}

func parseList(arg string) []string {
	var out []string
	for _, p := range strings.Split(arg, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeSummaryCSV(path string, sums []summary) error {
	if len(sums) == 0 {
		return fmt.Errorf("no summary data")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	header := []string{
		"config", "runId", "start", "end", "rows", "replayEvents",
		"positionA", "positionB", "baseA", "quoteA", "baseB", "quoteB",
		"midA", "midB", "totalValue", "peak", "drawdown", "stopLoss",
		"theoreticalPrice", "upCrossings", "downCrossings",
		"fillsA", "fillsB", "makerFillsA", "makerFillsB", "rebalances", "feeQuoteA", "feeQuoteB",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range sums {
		a, b := s.Ledgers[leg.A], s.Ledgers[leg.B]
		record := []string{
			s.Config,
			s.RunID,
			s.Start.Format("2006-01-02T15:04:05Z07:00"),
			s.End.Format("2006-01-02T15:04:05Z07:00"),
			fmt.Sprintf("%d", s.Rows),
			fmt.Sprintf("%d", s.ReplayEvents),
			fmt.Sprintf("%.6f", a.Position),
			fmt.Sprintf("%.6f", b.Position),
			fmt.Sprintf("%.6f", a.Base),
			fmt.Sprintf("%.6f", a.Quote),
			fmt.Sprintf("%.6f", b.Base),
			fmt.Sprintf("%.6f", b.Quote),
			fmt.Sprintf("%.6f", s.Mids[leg.A]),
			fmt.Sprintf("%.6f", s.Mids[leg.B]),
			fmt.Sprintf("%.6f", s.TotalValue),
			fmt.Sprintf("%.6f", s.Peak),
			fmt.Sprintf("%.6f", s.Drawdown),
			fmt.Sprintf("%v", s.StopLossTriggered),
			fmt.Sprintf("%.6f", s.TheoreticalPrice),
			fmt.Sprintf("%d", s.UpCrossings),
			fmt.Sprintf("%d", s.DownCrossings),
			fmt.Sprintf("%d", s.Fills[leg.A]),
			fmt.Sprintf("%d", s.Fills[leg.B]),
			fmt.Sprintf("%d", s.MakerFills[leg.A]),
			fmt.Sprintf("%d", s.MakerFills[leg.B]),
			fmt.Sprintf("%d", s.Rebalances),
			fmt.Sprintf("%.6f", a.FeeQuote),
			fmt.Sprintf("%.6f", b.FeeQuote),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}
