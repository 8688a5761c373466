package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/tongue-twister/backend/internal/history"
	"github.com/zhouzirui/tongue-twister/backend/internal/library"
	"github.com/zhouzirui/tongue-twister/backend/internal/visualize"
)

func twistersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twisters",
		Short: "浏览绕口令库",
	}

	var difficulty, category string
	list := &cobra.Command{
		Use:   "list",
		Short: "列出绕口令",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			filter, err := parseFilter(difficulty, category)
			if err != nil {
				return err
			}
			for _, t := range e.lib.List() {
				if (filter.Difficulty == "" || t.Difficulty == filter.Difficulty) &&
					(filter.Category == "" || t.Category == filter.Category) {
					printTwister(cmd.OutOrStdout(), t, false)
				}
			}
			return nil
		},
	}
	list.Flags().StringVar(&difficulty, "difficulty", "", "难度: beginner, intermediate, advanced, expert")
	list.Flags().StringVar(&category, "category", "", "分类")

	random := &cobra.Command{
		Use:   "random",
		Short: "随机选择一条绕口令",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			filter, err := parseFilter(difficulty, category)
			if err != nil {
				return err
			}
			t, ok := e.lib.Random(filter)
			if !ok {
				return fmt.Errorf("没有符合条件的绕口令")
			}
			printTwister(cmd.OutOrStdout(), t, true)
			return nil
		},
	}
	random.Flags().StringVar(&difficulty, "difficulty", "", "难度")
	random.Flags().StringVar(&category, "category", "", "分类")

	search := &cobra.Command{
		Use:   "search <keyword>",
		Short: "按关键词搜索",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			items := e.lib.Search(args[0])
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), visualize.StyleMuted.Render("没有找到匹配的绕口令"))
			}
			for _, t := range items {
				printTwister(cmd.OutOrStdout(), t, false)
			}
			return nil
		},
	}

	cmd.AddCommand(list, random, search)
	return cmd
}

func parseFilter(difficulty, category string) (library.Filter, error) {
	filter := library.Filter{Difficulty: library.Difficulty(difficulty), Category: library.Category(category)}
	if filter.Difficulty != "" && filter.Difficulty.Rank() < 0 {
		return filter, fmt.Errorf("未知难度 %q", difficulty)
	}
	return filter, nil
}

func printTwister(w io.Writer, t library.Twister, detail bool) {
	fmt.Fprintf(w, "%s  %s  %s\n", visualize.StyleHeader.Render(t.ID), t.Title,
		visualize.StyleMuted.Render("["+t.Difficulty.Label()+"]"))
	fmt.Fprintf(w, "    %s\n", t.Text)
	if !detail {
		return
	}
	if t.Description != "" {
		fmt.Fprintf(w, "    %s\n", visualize.StyleMuted.Render(t.Description))
	}
	for _, tip := range t.Tips {
		fmt.Fprintf(w, "    · %s\n", tip)
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看练习历史",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			store, err := e.store()
			if err != nil {
				return err
			}
			records, err := store.List(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, visualize.StyleMuted.Render("暂无练习记录"))
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(out, "%s  %5.1f  %-4s  %s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Overall, r.Grade.Label(), truncate(r.Text, 20))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "显示条数")
	return cmd
}

func progressCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "分析最近的进步情况",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			store, err := e.store()
			if err != nil {
				return err
			}
			records, err := store.List(0)
			if err != nil {
				return err
			}
			printProgress(cmd.OutOrStdout(), history.AnalyzeProgress(records, limit), history.Summarize(records))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "参与分析的最近次数")
	return cmd
}

func printProgress(w io.Writer, p history.Progress, s history.Summary) {
	if p.Attempts == 0 {
		fmt.Fprintln(w, visualize.StyleMuted.Render(p.Message))
		return
	}
	fmt.Fprintln(w, visualize.StyleHeader.Render("最近练习"))
	fmt.Fprintf(w, "  次数 %d  当前 %.1f  平均 %.1f  最佳 %.1f\n", p.Attempts, p.Current, p.Average, p.Best)
	fmt.Fprintf(w, "  趋势 %s (%+.1f)\n", p.Trend, p.Improvement)
	if p.Message != "" {
		fmt.Fprintf(w, "  %s\n", visualize.StyleMuted.Render(p.Message))
	}
	fmt.Fprintln(w, visualize.StyleHeader.Render("全部练习"))
	fmt.Fprintf(w, "  次数 %d  练习天数 %d  最高 %.1f  最低 %.1f  趋势 %s\n",
		s.Attempts, s.PracticeDays, s.Best, s.Worst, s.Trend)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
