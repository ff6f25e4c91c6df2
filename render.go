package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"i4.energy/across/cellnet/modem"
	"i4.energy/across/cellnet/network"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(12)
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func statusStyle(s network.State) lipgloss.Style {
	switch s {
	case network.Connected:
		return valueStyle
	case network.Connecting:
		return warningStyle
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	}
}

func row(label, value string, style lipgloss.Style) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), style.Render(value))
}

// renderInformation draws a network snapshot. err lists the queries that
// failed.
func renderInformation(info network.Information, err error) string {
	operator := info.Operator
	if operator == "" {
		operator = "-"
	}
	ip := info.IPAddress
	if ip == "" {
		ip = "-"
	}

	rows := []string{
		titleStyle.Render("Network"),
		row("Status", info.Status.String(), statusStyle(info.Status)),
		row("Operator", operator, valueStyle),
		row("Signal", formatSignal(info.Signal), valueStyle),
		row("IP address", ip, valueStyle),
	}
	if err != nil {
		rows = append(rows, "", warningStyle.Render(err.Error()))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func formatSignal(s modem.Signal) string {
	if !s.Known() {
		return "unknown"
	}
	return fmt.Sprintf("%d dBm (rssi %d, ber %d)", s.DBm(), s.RSSI, s.BER)
}

// renderOperators draws the operators of a scan as a table.
func renderOperators(ops []network.Operator) string {
	if len(ops) == 0 {
		return warningStyle.Render("No operators found")
	}

	header := []string{"STATUS", "NAME", "SHORT", "NUMERIC", "MODE"}
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, []string{op.Type.String(), op.Name, op.ShortName, op.Format, op.SystemMode.String()})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = style.Width(widths[i] + 2).Render(cell)
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	out := []string{line(header, titleStyle)}
	for i, r := range rows {
		style := valueStyle
		if ops[i].Type == network.OperatorForbidden {
			style = warningStyle
		}
		out = append(out, line(r, style))
	}
	return boxStyle.Render(strings.Join(out, "\n"))
}
