package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sarchlab/emilator/emu"
)

func renderRegisters(m *emu.Machine) string {
	regTable := table.NewWriter()
	regTable.SetTitle("Registers")
	regTable.AppendHeader(table.Row{"Register", "Width", "Value"})

	rf := m.RegFile()
	snapshot := rf.Snapshot()
	for _, reg := range rf.Names() {
		width := rf.Width(reg)
		regTable.AppendRow(table.Row{
			string(reg),
			width,
			fmt.Sprintf("0x%0*X", width*2, snapshot[reg]),
		})
	}

	return regTable.Render()
}

func renderSegments(m *emu.Machine) string {
	segTable := table.NewWriter()
	segTable.SetTitle("Segments")
	segTable.AppendHeader(table.Row{"Start", "End", "Size", "Flags"})

	for _, seg := range m.Memory().Segments() {
		segTable.AppendRow(table.Row{
			fmt.Sprintf("0x%X", seg.Start),
			fmt.Sprintf("0x%X", seg.End()),
			seg.Size,
			seg.Flags.String(),
		})
	}

	return segTable.Render()
}

func renderOpCounts(c *emu.OpCounter) string {
	opTable := table.NewWriter()
	opTable.SetTitle("Evaluations")
	opTable.AppendHeader(table.Row{"Op", "Count"})

	total := uint64(0)
	for _, op := range c.Ops() {
		opTable.AppendRow(table.Row{op.String(), c.Count(op)})
		total += c.Count(op)
	}
	opTable.AppendFooter(table.Row{"Total", total})

	return opTable.Render()
}
