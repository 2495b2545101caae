package harvest

import (
	"context"
	"encoding/json"
	"io"

	"consoleharvest/lib/scrapers/console"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableReport renders the canonical set as a plain-text table, the
// closest thing a terminal gets to the downstream spreadsheet.
type TableReport struct {
	Out io.Writer
}

var _ ReportSink = TableReport{}

func (r TableReport) WriteReport(
	ctx context.Context,
	runID string,
	records []console.EntityRecord,
	enrichment map[string]console.EnrichmentResult,
) error {
	t := table.NewWriter()
	t.SetOutputMirror(r.Out)
	t.SetTitle("harvest %s", runID)
	t.AppendHeader(table.Row{"member", "name", "blocked", "suspended", "selection", "enriched"})

	for _, record := range records {
		flags := console.TagFlagSet{}
		enriched := "no"

		result, ok := enrichment[record.IdentityKey]
		if ok && !result.Defaulted && len(result.Payload) > 0 {
			err := json.Unmarshal(result.Payload, &flags)
			if err == nil {
				enriched = "yes"
			}
		}

		t.AppendRow(table.Row{
			record.IdentityKey,
			record.Attributes["name"],
			flags.Blocked,
			flags.Suspended,
			flags.Selection,
			enriched,
		})
	}

	t.Render()
	return nil
}
