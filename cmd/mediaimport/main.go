package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/John-Robertt/mediaimport/internal/app/run"
	"github.com/John-Robertt/mediaimport/internal/config"
	"github.com/John-Robertt/mediaimport/internal/domain"
	"github.com/John-Robertt/mediaimport/internal/infra/fsx"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := dispatch(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if code != 0 {
		os.Exit(code)
	}
}

func dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(stdout)
		return 0
	}

	switch args[0] {
	case "run":
		return runCmd(ctx, args[1:], stdout, stderr)
	case "thumb":
		return thumbCmd(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "未知命令：%q\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, "用法：\n  mediaimport run [source] [flags]\n\n参数：\n")
		fs.PrintDefaults()
	}

	var cli config.CLIArgs
	fs.StringVarP(&cli.Destination, "dest", "d", "", "目的地根目录（未指定则读环境变量/配置文件）")
	fs.BoolVar(&cli.Apply, "apply", false, "执行复制（默认 dry-run）；支持 --apply=false 覆盖配置中的 apply=true")
	fs.BoolVar(&cli.OrganizeByDate, "organize-by-date", true, "按拍摄时间放入 YYYY/MM/ 子目录")
	fs.BoolVar(&cli.RenameByDate, "rename-by-date", false, "按拍摄时间重命名为 YYYYMMDD_HHMMSS")
	fs.BoolVar(&cli.DeleteOriginals, "delete-originals", false, "复制校验成功后删除源文件")
	fs.StringSliceVar(&cli.Types, "types", nil, "只导入这些类别：image,video,audio,raw")
	fs.StringVar(&cli.LogLevel, "log-level", "", "日志级别：trace|debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "参数错误：%v\n", err)
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(stderr, "参数错误：重复的 source：%v\n", fs.Args())
		return 2
	}
	cli.Source = fs.Arg(0)
	cli.DestinationSet = fs.Changed("dest")
	cli.ApplySet = fs.Changed("apply")
	cli.OrganizeByDateSet = fs.Changed("organize-by-date")
	cli.RenameByDateSet = fs.Changed("rename-by-date")
	cli.DeleteOriginalsSet = fs.Changed("delete-originals")
	cli.TypesSet = fs.Changed("types")
	cli.LogLevelSet = fs.Changed("log-level")

	eff, code := loadConfig(cli, stderr)
	if code != 0 {
		return code
	}

	log := newLogger(stderr, eff.LogLevel)
	ctx = log.WithContext(ctx)

	var obs run.Observer
	var ui *progressUI
	if isTTY(stderr) {
		ui = newProgressUI(stderr)
		obs = ui
	}

	rr, runErr := run.ExecuteWithObserver(ctx, eff, obs)
	if ui != nil {
		ui.Stop()
	}

	// apply：写入 <destination>/.mediaimport/report.json；dry-run 禁止落盘。
	if shouldWriteReport(eff, rr, runErr) {
		if err := writeReportFile(run.ReportPath(eff), rr); err != nil {
			log.Error().Err(err).Msg("写入 report.json 失败")
			emitReport(stdout, stderr, rr)
			return 1
		}
	}

	emitReport(stdout, stderr, rr)
	if runErr != nil {
		log.Error().Err(runErr).Msg("运行失败")
		return 1
	}
	if ui != nil && eff.Apply && eff.Destination != "" {
		fmt.Fprintf(stderr, "report: %s\n", run.ReportPath(eff))
	}
	if rr.Summary.Failed > 0 || rr.Cancelled {
		return 1
	}
	return 0
}

func thumbCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("thumb", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, "用法：\n  mediaimport thumb [source] --out DIR [flags]\n\n参数：\n")
		fs.PrintDefaults()
	}

	var (
		cli  config.CLIArgs
		out  string
		size int
	)
	fs.StringVarP(&out, "out", "o", "", "缩略图输出目录（必填）")
	fs.IntVar(&size, "size", 0, "缩略图最长边（像素，默认读配置）")
	fs.StringVar(&cli.LogLevel, "log-level", "", "日志级别：trace|debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "参数错误：%v\n", err)
		return 2
	}
	if out == "" || fs.NArg() > 1 || size < 0 {
		fs.Usage()
		return 2
	}
	cli.Source = fs.Arg(0)
	cli.LogLevelSet = fs.Changed("log-level")

	eff, code := loadConfig(cli, stderr)
	if code != 0 {
		return code
	}
	if size > 0 {
		eff.ThumbnailSize = size
	}

	log := newLogger(stderr, eff.LogLevel)
	n, err := run.Thumbnails(log.WithContext(ctx), eff, out)
	if err != nil {
		log.Error().Err(err).Msg("生成缩略图失败")
		return 1
	}
	fmt.Fprintf(stdout, "%d\n", n)
	return 0
}

func loadConfig(cli config.CLIArgs, stderr io.Writer) (config.EffectiveConfig, int) {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
		return config.EffectiveConfig{}, 1
	}
	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		if config.Code(err) == config.ErrCodeInvalid {
			return config.EffectiveConfig{}, 2
		}
		return config.EffectiveConfig{}, 1
	}
	return eff, 0
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: !isTTY(w)}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  mediaimport run [source] [--dest DIR] [--apply[=true|false]] [flags]
  mediaimport thumb [source] --out DIR [--size N]

命令：
  run    扫描、去重并规划目的地；--apply 时执行复制（默认 dry-run）
  thumb  为源目录中的图片生成缩略图

使用 "mediaimport run --help" 查看详细说明。
`)
}

func emitReport(stdout, stderr io.Writer, rr domain.ImportReport) {
	summary := fmt.Sprintf("完成：imported=%d pre_existing=%d duplicates=%d deleted=%d failed=%d waiting=%d copied=%s",
		rr.Summary.Imported, rr.Summary.PreExisting, rr.Summary.Duplicates,
		rr.Summary.DeletedAsDup, rr.Summary.Failed, rr.Summary.Waiting,
		humanize.Bytes(uint64(rr.Summary.Bytes)),
	)

	if isTTY(stdout) {
		fmt.Fprintln(stdout, summary)
		for _, f := range rr.Files {
			if f.Status == domain.StatusFailed {
				fmt.Fprintf(stderr, "%s: %s\n", f.Src, f.Error)
			}
		}
		if s := rr.DeletionSummary(); s != "" {
			fmt.Fprintln(stderr, s)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 ImportReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(stderr, summary)
	if s := rr.DeletionSummary(); s != "" {
		fmt.Fprintln(stderr, s)
	}
}

func writeReportFile(path string, rr domain.ImportReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b)
}

// shouldWriteReport：只有 apply 且完整跑完（未取消）时才落盘 report.json。
// 导入中途取消时 runErr 为 nil，必须同时看 rr.Cancelled。
func shouldWriteReport(eff config.EffectiveConfig, rr domain.ImportReport, runErr error) bool {
	if !eff.Apply || eff.Destination == "" {
		return false
	}
	return !rr.Cancelled && !errors.Is(runErr, context.Canceled)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
