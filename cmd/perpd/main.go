// 文件: cmd/perpd/main.go
// 永续合约服务入口
//
// 子命令:
//   serve    启动 HTTP + 资金费率机器人 + 清算机器人
//   migrate  建表 (mysql 状态存储 / 托管账本 / 事件流水)
//   token    为某个身份签发 JWT
//   credit   给托管账本记入外部余额 (测试网水龙头)

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flash.com/pkg/config"
)

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "perpd",
		Short:         "Perpetual futures engine daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml/json/toml)")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		logger, err := newLogger(cfg.App.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger.With(zap.String("app", cfg.App.Name)), nil
	}

	root.AddCommand(
		serveCommand(load),
		migrateCommand(load),
		tokenCommand(load),
		creditCommand(load),
	)
	return root
}

type loader func() (*config.Config, *zap.Logger, error)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Encoding = "console"
	return zc.Build()
}
