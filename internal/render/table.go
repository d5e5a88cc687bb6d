// Package render formats watcher state as console tables.
package render

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/pinbar/polywatcher/internal/domain"
)

// Positions writes the current positions as a table. Unrealized PnL is
// omitted; the watcher carries no market prices.
func Positions(w io.Writer, positions []domain.Position) {
	table := tablewriter.NewWriter(w)
	table.Header("Asset", "Outcome", "Size", "Avg Px", "Sellable", "Volume", "Realized", "Failed")

	for _, p := range positions {
		failed := ""
		if p.HasFailed {
			failed = fmt.Sprintf("%d", len(p.FailedTrades))
		}
		table.Append(
			shortID(p.AssetID),
			p.Outcome,
			fmt.Sprintf("%.2f", p.Size),
			fmt.Sprintf("%.4f", p.Price),
			fmt.Sprintf("%.2f", p.SellableSize),
			fmt.Sprintf("%.2f", p.Volume),
			fmt.Sprintf("$%.4f", p.RealizedPnL),
			failed,
		)
	}

	table.Render()
}

// Orders writes the tracked orders as a table.
func Orders(w io.Writer, orders []domain.Order) {
	table := tablewriter.NewWriter(w)
	table.Header("Order", "Asset", "Side", "Px", "Matched", "Size", "Status", "Filled")

	for _, o := range orders {
		filled := ""
		if o.Filled {
			filled = "yes"
		}
		table.Append(
			shortID(o.ID),
			shortID(o.AssetID),
			string(o.Side),
			fmt.Sprintf("%.4f", o.Price),
			fmt.Sprintf("%.2f", o.SizeMatched),
			fmt.Sprintf("%.2f", o.OriginalSize),
			string(o.Status),
			filled,
		)
	}

	table.Render()
}

// Lots writes the open FIFO lots of one position, oldest first.
func Lots(w io.Writer, assetID string, lots []domain.Lot) {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Price", "Size")

	for i, l := range lots {
		table.Append(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.4f", l.Price),
			fmt.Sprintf("%.2f", l.Size),
		)
	}

	fmt.Fprintf(w, "lots for %s\n", shortID(assetID))
	table.Render()
}

// shortID truncates long token IDs for display.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:6] + ".." + id[len(id)-4:]
}
