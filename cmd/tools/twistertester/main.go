package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/config"
	"github.com/zhouzirui/tongue-twister/backend/internal/history"
	"github.com/zhouzirui/tongue-twister/backend/internal/library"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/audio"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/coach"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/speech"
	"github.com/zhouzirui/tongue-twister/backend/internal/visualize"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

var (
	noColor bool
	verbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "twistertester",
	Short: "绕口令发音评测命令行工具",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		if noColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "禁用终端颜色")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")
	rootCmd.AddCommand(
		evaluateCmd(),
		twistersCmd(),
		historyCmd(),
		progressCmd(),
	)
}

// env 命令行运行所需的配置与依赖
type env struct {
	cfg *config.Config
	log *zap.Logger
	lib *library.Library
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("配置加载失败: %w", err)
	}
	opts := cfg.Log.Options("twistertester")
	if verbose {
		opts.Level = "debug"
	} else if cfg.Log.Level == "" {
		opts.Level = "warn"
	}
	log := logger.New(opts)
	zap.ReplaceGlobals(log)

	lib, err := library.Open(cfg.Library.Path)
	if err != nil {
		return nil, fmt.Errorf("绕口令库加载失败: %w", err)
	}
	return &env{cfg: cfg, log: log, lib: lib}, nil
}

func (e *env) store() (*history.Store, error) {
	return history.New(history.Options{Dir: e.cfg.Storage.Dir, TTL: e.cfg.Storage.CacheTTL}, e.log)
}

func evaluateCmd() *cobra.Command {
	var (
		audioPath string
		text      string
		twisterID string
		htmlPath  string
		skipCache bool
		noRecord  bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "评测一段 WAV 录音",
		Long: `读取 16 位 PCM WAV 录音，调用讯飞评测并输出总分、各维度得分、
逐字错误报告与练习建议。参考文本可以用 --text 直接给出，也可以用 --twister 指定库中条目。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			if twisterID != "" {
				tw, ok := e.lib.Lookup(twisterID)
				if !ok {
					return fmt.Errorf("未找到绕口令 %s", twisterID)
				}
				if text == "" {
					text = tw.Text
				}
			}
			if text == "" {
				return fmt.Errorf("请通过 --text 或 --twister 提供参考文本")
			}

			buf, err := audio.LoadWAV(audioPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			pipeline, cleanup, err := e.pipeline(ctx, !noRecord)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := pipeline.Evaluate(ctx, evaluation.Request{
				Text:      text,
				TwisterID: twisterID,
				Audio:     buf,
				SkipCache: skipCache,
			})
			if err != nil {
				if report != nil && len(report.Verdict.Issues) > 0 {
					for _, issue := range report.Verdict.Issues {
						fmt.Fprintln(cmd.ErrOrStderr(), visualize.StyleMuted.Render("  - "+issue))
					}
				}
				return err
			}

			out := cmd.OutOrStdout()
			result := report.Result
			if report.Cached {
				fmt.Fprintln(out, visualize.StyleMuted.Render("（缓存结果）"))
			}
			if result.NoResult {
				fmt.Fprintln(out, "评测服务未返回结果，请重新录音")
				return nil
			}
			fmt.Fprintln(out, visualize.Card(result))
			fmt.Fprintln(out, visualize.Terminal(text, result.Score.Words))
			fmt.Fprintln(out, visualize.Legend())
			fmt.Fprintln(out)
			fmt.Fprintln(out, visualize.Report(text, result.Score.Words))

			if htmlPath != "" {
				page := visualize.Page("发音评测报告", text, result.Score.Words)
				if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
					return fmt.Errorf("写入 HTML 报告失败: %w", err)
				}
				fmt.Fprintf(out, "HTML 报告已保存到 %s\n", htmlPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&audioPath, "audio", "a", "", "WAV 录音文件路径")
	cmd.Flags().StringVarP(&text, "text", "t", "", "参考文本")
	cmd.Flags().StringVar(&twisterID, "twister", "", "绕口令 ID")
	cmd.Flags().StringVar(&htmlPath, "save-html", "", "保存着色 HTML 报告的路径")
	cmd.Flags().BoolVar(&skipCache, "no-cache", false, "跳过结果缓存")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "不写入练习历史")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "评测超时时间")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

// pipeline 按配置组装评测流水线，record 为 false 时不写历史
func (e *env) pipeline(ctx context.Context, record bool) (*evaluation.Service, func(), error) {
	if !e.cfg.ISE.Enabled {
		return nil, nil, fmt.Errorf("讯飞评测未启用，请配置 XFYUN_APPID、XFYUN_API_KEY、XFYUN_API_SECRET")
	}
	ise, err := speech.NewService(e.cfg.ISE.Endpoint(), e.log)
	if err != nil {
		return nil, nil, err
	}

	deps := evaluation.Dependencies{Evaluator: ise}
	if e.cfg.Storage.CacheEnabled {
		store, err := e.store()
		if err != nil {
			e.log.Warn("local storage unavailable", zap.Error(err))
		} else {
			deps.Cache = store
			if record {
				deps.Recorder = store
			}
		}
	}

	if e.cfg.AI.CoachEnabled && e.cfg.AI.Enabled() {
		if chatModel, err := e.cfg.AI.NewChatModel(ctx); err != nil {
			e.log.Warn("chat model unavailable", zap.Error(err))
		} else if c, err := coach.NewService(ctx, chatModel, coach.Config{Enabled: true}, e.log); err == nil && c.Enabled() {
			deps.Coach = c
		}
	}

	opts := evaluation.DefaultOptions()
	opts.Thresholds = e.cfg.Audio.Thresholds()
	opts.Preprocess = e.cfg.Audio.Preprocess
	opts.ConnectRetries = e.cfg.ISE.ConnectRetries

	svc, err := evaluation.NewService(deps, opts, e.log)
	if err != nil {
		ise.Cleanup()
		return nil, nil, err
	}
	return svc, ise.Cleanup, nil
}
