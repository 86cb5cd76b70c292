package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"cross-maker-go/internal/container"
	"cross-maker-go/internal/engine"
	"cross-maker-go/leg"
)

// 实盘 / 纸面交易入口。
// 用法：
//
//	trader -config configs/config.yaml [restart | reinit | liquidation]
//	trader -config configs/config.yaml initorder|reinitorder|liquidationorder <usdA> <usdB>
//	trader -config configs/config.yaml target <posA> <posB>
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "密钥环境变量文件，不存在则忽略")
	runID := flag.String("run", "", "运行标识，默认使用启动时间")
	flag.Parse()

	action, err := engine.ParseStartupAction(flag.Args())
	if err != nil {
		log.Fatalf("解析启动动作失败: %v", err)
	}

	c, err := container.New(container.Options{
		ConfigPath: *cfgPath,
		EnvFile:    *envFile,
		Startup:    action,
		RunID:      *runID,
	})
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}
	lg := c.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		lg.Error("start failed", zap.Error(err))
		_ = c.Stop()
		os.Exit(1)
	}
	notify(lg.Logger, daemon.SdNotifyReady)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var watchdog <-chan time.Time
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		watchdog = t.C
	}

	exit := 0
loop:
	for {
		select {
		case sig := <-quit:
			lg.Info("signal received, shutting down", zap.String("signal", sig.String()))
			break loop
		case <-c.Done():
			lg.Info("engine finished, shutting down")
			break loop
		case <-watchdog:
			if err := c.HealthCheck(); err != nil {
				lg.Warn("health check failed", zap.Error(err))
				continue
			}
			notify(lg.Logger, daemon.SdNotifyWatchdog)
		}
	}

	notify(lg.Logger, daemon.SdNotifyStopping)
	if s, err := c.Summary(); err == nil {
		fmt.Printf("run=%s events=%d totalValue=%.4f peak=%.4f drawdown=%.4f positionA=%.6f positionB=%.6f stopLoss=%v\n",
			c.RunID(), s.Events, s.TotalValue, s.Peak, s.Drawdown,
			s.Ledgers[leg.A].Position, s.Ledgers[leg.B].Position, s.StopLossTriggered)
	}
	if err := c.Stop(); err != nil {
		log.Printf("停止时出现错误: %v", err)
		exit = 1
	}
	cancel()
	os.Exit(exit)
}

func notify(lg *zap.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		lg.Debug("sd_notify failed", zap.Error(err))
	}
}
