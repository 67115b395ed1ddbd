package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agentflow/internal/state"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		path := cfg.History.Path
		if path == "" {
			path = state.DefaultPath()
		}
		history, err := state.Open(path)
		if err != nil {
			return err
		}
		defer history.Close()

		runs, err := history.Recent(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no recorded runs")
			return nil
		}

		pass := color.New(color.FgGreen)
		fail := color.New(color.FgRed)
		for _, run := range runs {
			mark := pass.Sprint("ok")
			if !run.Success {
				mark = fail.Sprint("failed")
			}
			fmt.Printf("%s  %-8s %-36s %8s  %s\n",
				run.CreatedAt.Local().Format(time.DateTime),
				mark,
				run.ID,
				run.Duration.Round(time.Millisecond),
				truncate(run.Input, 60))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
