package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cross-maker-go/internal/store"
)

type stats struct {
	records    int
	first      store.PnLRecord
	last       store.PnLRecord
	maxValue   float64
	maxDD      float64
	fillsA     int64
	fillsB     int64
	stopLosses int
}

func (s *stats) add(r store.PnLRecord) {
	if s.records == 0 {
		s.first = r
	}
	s.records++
	s.last = r
	if r.TotalValue > s.maxValue {
		s.maxValue = r.TotalValue
	}
	if r.Drawdown > s.maxDD {
		s.maxDD = r.Drawdown
	}
	s.fillsA = r.FillsA
	s.fillsB = r.FillsB
	if r.StopLossTriggered {
		s.stopLosses++
	}
}

// 从盈亏库汇总某次运行（或全部）的快照。
func main() {
	driver := flag.String("driver", "postgres", "数据库驱动 postgres | sqlite")
	dsn := flag.String("dsn", os.Getenv("MM_DATABASE_DSN"), "数据库连接串")
	runID := flag.String("run", "", "仅统计指定运行 (默认全量)")
	sinceStr := flag.String("since", "", "仅统计此时间之后的记录 (RFC3339，例如 2025-11-22T00:00:00Z)")
	flag.Parse()

	var since time.Time
	var err error
	if *sinceStr != "" {
		since, err = time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
	}

	db, err := store.OpenDB(*driver, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法连接数据库: %v\n", err)
		os.Exit(1)
	}
	exp, err := store.NewPnLExporter(db, *runID, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer exp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	recs, err := exp.History(ctx, *runID, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		os.Exit(1)
	}

	st := stats{}
	for _, r := range recs {
		st.add(r)
	}
	if st.records == 0 {
		fmt.Println("没有记录")
		return
	}

	if *runID != "" {
		fmt.Printf("运行: %s (%s)\n", *runID, st.last.Mode)
	}
	if !since.IsZero() {
		fmt.Printf("起始时间: %s\n", since.Format(time.RFC3339))
	}
	fmt.Printf("快照数: %d (%s ~ %s)\n", st.records,
		st.first.RecordedAt.Format(time.RFC3339), st.last.RecordedAt.Format(time.RFC3339))
	fmt.Printf("总价值: %.4f -> %.4f (变化 %.4f)\n", st.first.TotalValue, st.last.TotalValue, st.last.TotalValue-st.first.TotalValue)
	fmt.Printf("最高总价值: %.4f\n", st.maxValue)
	fmt.Printf("最大回撤: %.4f\n", st.maxDD)
	fmt.Printf("持仓: prodA %.6f  prodB %.6f\n", st.last.PositionA, st.last.PositionB)
	fmt.Printf("未实现盈亏: prodA %.4f  prodB %.4f\n", st.last.UnrealizedPnLA, st.last.UnrealizedPnLB)
	fmt.Printf("成交笔数: prodA %d  prodB %d\n", st.fillsA, st.fillsB)
	fmt.Printf("手续费(计价币): prodA %.6f  prodB %.6f\n", st.last.FeesQuoteA, st.last.FeesQuoteB)
	if st.stopLosses > 0 {
		fmt.Printf("止损已触发 (%d 条快照)\n", st.stopLosses)
	}
}
