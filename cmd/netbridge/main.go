// netbridge 将 Chrome DevTools 目标的网络活动以统一的 JSON 协议暴露给客户端，
// 支持请求拦截、修改、合成响应与响应体读取。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"netbridge/internal/config"
	"netbridge/internal/logger"
	"netbridge/pkg/api"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		devtoolsURL string
		addr        string
		logLevel    string
	)
	flagSet := pflag.NewFlagSet("netbridge", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "netbridge.yaml", "path to the YAML config file (skipped when missing)")
	flagSet.StringVar(&devtoolsURL, "devtools", "", "Chrome DevTools HTTP endpoint, overrides devtools.url")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides log.level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if devtoolsURL != "" {
		cfg.Devtools.URL = devtoolsURL
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writer:     cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	log.Info("启动 netbridge", "version", cfg.Version, "devtools", cfg.Devtools.URL, "addr", cfg.Server.Addr)

	svc, err := api.NewService(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Err(err, "释放服务资源失败")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: netbridge [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment variables NETBRIDGE_* override the config file, flags override both.")
	fmt.Fprintln(os.Stderr)
	flagSet.PrintDefaults()
}
