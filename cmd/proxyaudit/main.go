package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"proxyaudit/internal/app"
	"proxyaudit/internal/config"
	"proxyaudit/internal/journal"
	"proxyaudit/internal/validation"
)

// 未指定交易对时查询的 Uniswap V2 池
var defaultPairs = []string{
	"0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11",
	"0x255Ecb43d40e686Ca0914348fc6b012e0bE14DD0",
}

var (
	configFile   string
	verbose      bool
	outputFormat string
	useJournal   bool
	strict       bool
	historyLimit int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stdout, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "proxyaudit <tx_hash> <proxy_address>",
		Short:         "EIP-1967 代理升级检测工具",
		Long:          `检测一笔交易是否修改了 EIP-1967 代理合约的实现地址，并比较新旧实现的字节码`,
		Args:          cobra.ExactArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runAudit,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", config.DefaultConfigPath, "配置文件路径")
	flags.BoolVar(&verbose, "verbose", false, "详细输出")
	flags.StringVar(&outputFormat, "output-format", "", "结果输出格式 (none, json, kafka)，默认使用配置文件")
	flags.BoolVar(&useJournal, "journal", false, "将检测结果写入审计日志")
	flags.BoolVar(&strict, "strict", false, "混合大小写地址必须通过EIP-55校验")

	poolCmd := &cobra.Command{
		Use:   "pool [pair_address...]",
		Short: "查询交易对中两种代币的余额",
		RunE:  runPool,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "查看审计日志中的检测记录",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "显示的记录数")

	rootCmd.AddCommand(poolCmd, historyCmd)
	return rootCmd
}

func overrides(cmd *cobra.Command) app.Overrides {
	ov := app.Overrides{Verbose: verbose, OutputFormat: outputFormat}
	if cmd.Flags().Changed("journal") {
		ov.Journal = &useJournal
	}
	return ov
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := app.Load(configFile, overrides(cmd))
	if err != nil {
		return err
	}

	req, err := validation.NewValidator(logger, strict || cfg.API.StrictChecksum).ParseAuditRequest(args[0], args[1])
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(a)

	report, err := a.Service.AuditUpgrade(a.Shutdown.Context(), req.TxHash, req.Proxy)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report.Verdict)
}

func runPool(cmd *cobra.Command, args []string) error {
	cfg, logger, err := app.Load(configFile, overrides(cmd))
	if err != nil {
		return err
	}

	if len(args) == 0 {
		args = defaultPairs
	}
	validator := validation.NewValidator(logger, strict || cfg.API.StrictChecksum)
	pairs := make([]common.Address, 0, len(args))
	for _, arg := range args {
		pair, err := validator.ParseAddress("pair", arg)
		if err != nil {
			return err
		}
		pairs = append(pairs, pair)
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(a)

	for _, pair := range pairs {
		report, err := a.Service.InspectPool(a.Shutdown.Context(), pair)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := app.Load(configFile, overrides(cmd))
	if err != nil {
		return err
	}

	j, err := journal.Open(cfg.Journal.Path, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	reports, err := j.List(historyLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), reports)
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warnf("停机过程中出现错误: %v", err)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
