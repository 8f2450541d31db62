package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/tikzserve/pkg/render"
)

// formatsCommand creates the formats command.
func (c *CLI) formatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the available output formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			formats := render.NewRegistry(cfg.RegistryOptions()).Formats()
			fmt.Fprintln(cmd.OutOrStdout(), formatsTable(formats))
			return nil
		},
	}
}

// formatsTable renders formats as a table, one row per format.
func formatsTable(formats []render.Format) string {
	rows := make([][]string, len(formats))
	for i, f := range formats {
		dpi := "-"
		if f.DPI > 0 {
			dpi = strconv.Itoa(f.DPI)
		}
		rows[i] = []string{f.Name, f.Kind.String(), f.Mimetype, strconv.Itoa(f.EmSize), dpi, f.Description}
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Format", "Kind", "Mimetype", "Em size", "DPI", "Description").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == -1:
				return headerStyle.Padding(0, 1)
			case col == 0:
				return cell.Foreground(colorCyan).Bold(true)
			case col == 5:
				return cell.Foreground(colorDim)
			}
			return cell
		})
	return t.Render()
}
