package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/openfluke/branchnet/nn"
)

func SummaryHandler(cmd *cobra.Command, args []string) error {
	n, err := loadNetwork(cmd)
	if err != nil {
		return err
	}
	return showSummary(nn.ExtractBlueprint(n), cmd.OutOrStdout())
}

func showSummary(bp nn.Blueprint, w io.Writer) error {
	fmt.Fprintf(w, "Model %s\n\n", bp.ID)

	var data [][]string
	for _, stack := range append(bp.Branches, bp.Head) {
		for _, l := range stack.Layers {
			data = append(data, []string{
				stack.Name,
				l.Name,
				strconv.Itoa(l.InputSize) + " -> " + strconv.Itoa(l.OutputSize),
				l.Activation,
				strconv.Itoa(l.Parameters),
			})
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STACK", "LAYER", "SHAPE", "ACTIVATION", "PARAMS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	_, err := fmt.Fprintf(w, "\nTotal parameters: %d\n", bp.TotalParams)
	return err
}
