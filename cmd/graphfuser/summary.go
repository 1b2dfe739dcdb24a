// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/graphfuser/pkg/fusion"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F44")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(rowStyle)
}

// rowStyle alternates the style of the data rows: the first column is left aligned and the
// numbers are right aligned.
func rowStyle(row, col int) (s lipgloss.Style) {
	if row == lgtable.HeaderRow {
		return headerRowStyle
	}
	if row%2 == 0 {
		s = oddRowStyle
	} else {
		s = evenRowStyle
	}
	if col == 0 {
		s = s.Align(lipgloss.Left)
	} else {
		s = s.Align(lipgloss.Right)
	}
	return
}

// totalStats adds up the statistics of the graphs fused successfully.
func totalStats(reports []*fileReport) (total fusion.Stats) {
	for _, report := range reports {
		for _, result := range report.graphs {
			if result.err == nil {
				total.Add(result.stats)
			}
		}
	}
	return
}

func printSummary(config fusion.Config, reports []*fileReport) {
	fmt.Println(titleStyle.Render("Fusion summary"))
	table := newTable()
	table.Headers("Graph", "Instructions", "Fused", "Partitions", "Created", "Merges", "Dissolved", "CSE", "DCE")
	var numGraphs, numFailed int
	var totalBytes int64
	for _, report := range reports {
		totalBytes += report.size
		if report.err != nil {
			numFailed++
			table.Row(report.path, errorStyle.Render("failed to load"), "", "", "", "", "", "", "")
			continue
		}
		for _, result := range report.graphs {
			numGraphs++
			if result.err != nil {
				numFailed++
				table.Row(result.name, errorStyle.Render("failed"), "", "", "", "", "", "", "")
				continue
			}
			s := result.stats
			table.Row(result.name,
				humanize.Comma(int64(result.instructionsBefore)),
				humanize.Comma(int64(result.instructionsAfter)),
				humanize.Comma(int64(s.FinalPartitions)),
				humanize.Comma(int64(s.PartitionsCreated)),
				humanize.Comma(int64(s.Merges)),
				humanize.Comma(int64(s.Dissolved)),
				humanize.Comma(int64(s.CSERemoved)),
				humanize.Comma(int64(s.DCERemoved)))
		}
	}
	fmt.Println(table.Render())

	total := totalStats(reports)
	totals := newTable()
	totals.Row("config", config.String())
	totals.Row("files", fmt.Sprintf("%s (%s)", humanize.Comma(int64(len(reports))), humanize.Bytes(uint64(totalBytes))))
	totals.Row("graphs", humanize.Comma(int64(numGraphs)))
	totals.Row("failures", humanize.Comma(int64(numFailed)))
	totals.Row("partitions", humanize.Comma(int64(total.FinalPartitions)))
	totals.Row("created", humanize.Comma(int64(total.PartitionsCreated)))
	totals.Row("merges", humanize.Comma(int64(total.Merges)))
	totals.Row("dissolved", humanize.Comma(int64(total.Dissolved)))
	totals.Row("CSE removed", humanize.Comma(int64(total.CSERemoved)))
	totals.Row("DCE removed", humanize.Comma(int64(total.DCERemoved)))
	fmt.Println(totals.Render())
}
