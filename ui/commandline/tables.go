// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/gomlx/sonograph/pkg/classifier"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	// TitleStyle is used for the titles of the tables.
	TitleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// NewPlainTable returns a table with alternating row colors. If withHeader is true the
// first row is rendered as a header.
func NewPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// ClassifiedImage is the outcome of the classification of one image file: either Result or Err is set.
type ClassifiedImage struct {
	Path   string
	Result *classifier.Result
	Err    error
}

// ResultsTable renders one row per classified image, with the probability of each class.
func ResultsTable(classes []string, images []ClassifiedImage) string {
	table := NewPlainTable(true)
	header := []string{"File", "Class"}
	for _, class := range classes {
		header = append(header, "P("+class+")")
	}
	header = append(header, "Regions", "Edges", "Elapsed")
	table.Row(header...)
	for _, img := range images {
		row := make([]string, 0, len(header))
		row = append(row, img.Path)
		if img.Err != nil {
			row = append(row, "error: "+errkinds.Name(img.Err))
			for range classes {
				row = append(row, "-")
			}
			row = append(row, "-", "-", "-")
			table.Row(row...)
			continue
		}
		r := img.Result
		row = append(row, r.Label)
		for ii := range classes {
			row = append(row, fmt.Sprintf("%.2f%%", 100*r.Probabilities[ii]))
		}
		row = append(row,
			humanize.Comma(int64(r.NumRegions)),
			humanize.Comma(int64(r.NumEdges)),
			FormatDuration(r.Elapsed))
		table.Row(row...)
	}
	return table.Render()
}
