package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	mql "github.com/transform-data/mql-go"
)

func (a *app) printTable(table *mql.Table) {
	if table.Len() == 0 {
		fmt.Fprintln(a.out, "No rows returned")
		return
	}
	w := tablewriter.NewWriter(a.out)
	w.SetHeader(table.ColumnNames())
	w.SetAutoFormatHeaders(false)
	w.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	w.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range table.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		w.Append(cells)
	}
	w.Render()
}

func (a *app) printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(a.out, "WARNING: %s\n", w)
	}
}
