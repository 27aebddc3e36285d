package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/gosuri/uitable"

	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

const maxColumnWidth = 60

func printTable(w io.Writer, t *oob.Table) {
	if t == nil || len(t.Rows) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}

	table := uitable.New()
	table.MaxColWidth = maxColumnWidth
	table.Wrap = true

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = strings.ToUpper(c)
	}
	table.AddRow(header...)
	for _, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for i, c := range row {
			cells[i] = c
		}
		table.AddRow(cells...)
	}
	fmt.Fprintln(w, table)
}

func printText(w io.Writer, s string) {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return
	}
	fmt.Fprintln(w, s)
}
