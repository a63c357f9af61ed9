package schema

import (
	"strings"

	"github.com/joseph-ayodele/pdf2schema/constants"
)

// RenderTable renders the dataset description block for one table:
//
//	[Dataset Description]:
//	<description>
//
//	[Columns]:
//	"name": type, description
//
//	You can access the entire dataset via the "data" variable.
//
// Runs of whitespace in each value, line breaks included, render as one space
// so every column stays on its own line.
func RenderTable(t Table, description string) string {
	var b strings.Builder
	b.WriteString(constants.DatasetDescriptionHeader)
	b.WriteString("\n")
	b.WriteString(oneLine(description))
	b.WriteString("\n\n")
	b.WriteString(constants.ColumnsHeader)
	b.WriteString("\n")
	for _, f := range t.Fields {
		b.WriteString(`"`)
		b.WriteString(oneLine(f.Name))
		b.WriteString(`": `)
		b.WriteString(oneLine(f.Type))
		b.WriteString(", ")
		b.WriteString(oneLine(f.Description))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(constants.DataAccessStatement)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RenderDocument renders every table block, separated by a blank line.
func RenderDocument(d Document) string {
	blocks := make([]string, 0, len(d.Tables))
	for _, t := range d.Tables {
		blocks = append(blocks, RenderTable(t, d.Description))
	}
	return strings.Join(blocks, "\n\n")
}
