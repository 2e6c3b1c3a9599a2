package report

import (
	"fmt"
	"strings"
)

// RenderCSV renders market rows as a CSV string.
func RenderCSV(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("market,discipline,fills,amount_in,given,received,fill_rate,")
	sb.WriteString("venue_volume,book_volume,bounty,fee,blended_tick\n")

	// Rows
	for _, row := range r.Rows {
		blended := ""
		if row.BlendedTick != nil {
			blended = fmt.Sprintf("%d", *row.BlendedTick)
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%d,%d,%.6f,%d,%d,%d,%d,%s\n",
			row.Market,
			row.Discipline,
			row.Fills,
			row.AmountIn,
			row.Given,
			row.Received,
			row.FillRate(),
			row.VenueVolume,
			row.BookVolume,
			row.Bounty,
			row.Fee,
			blended,
		))
	}

	return sb.String()
}
