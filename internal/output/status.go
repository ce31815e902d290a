package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

var statusOrder = []types.TxStatus{
	types.TxStatusUnsent,
	types.TxStatusPending,
	types.TxStatusConfirmed,
	types.TxStatusFailed,
	types.TxStatusRejectedByUser,
}

// StatusColor returns the color a transaction status is printed in.
func StatusColor(s types.TxStatus) *color.Color {
	switch s {
	case types.TxStatusConfirmed:
		return color.New(color.FgGreen)
	case types.TxStatusPending:
		return color.New(color.FgYellow)
	case types.TxStatusFailed, types.TxStatusRejectedByUser:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

// ActionStatus summarizes the statuses of an action's transactions, e.g.
// "CONFIRMED" or "1 PENDING, 2 UNSENT".
func ActionStatus(a *types.CrossChainAction) string {
	counts := make(map[types.TxStatus]int)
	txs := a.AllTransactions()
	for _, tx := range txs {
		counts[tx.Status]++
	}
	if len(counts) == 1 {
		for s := range counts {
			return string(s)
		}
	}

	var parts []string
	for _, s := range statusOrder {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	return strings.Join(parts, ", ")
}

// dominantStatus is the least advanced status of an action, used for color.
func dominantStatus(a *types.CrossChainAction) types.TxStatus {
	for _, s := range []types.TxStatus{types.TxStatusFailed, types.TxStatusRejectedByUser, types.TxStatusUnsent, types.TxStatusPending} {
		if a.HasStatus(s) {
			return s
		}
	}
	return types.TxStatusConfirmed
}

// FormatEstimate renders an estimate for display.
func FormatEstimate(e *types.Estimate) string {
	switch {
	case e == nil:
		return "-"
	case e.Error != "":
		return "error: " + e.Error
	case e.Cost == nil:
		return "-"
	}
	asset := "native"
	if !types.IsNative(e.FeeAsset) {
		asset = e.FeeAsset.Hex()
	}
	s := fmt.Sprintf("%s %s", e.Cost.ToInt().String(), asset)
	if e.FiatCost != "" {
		s += fmt.Sprintf(" (~$%s)", e.FiatCost)
	}
	return s
}

// PrintActions prints a table of actions.
func PrintActions(w io.Writer, actions []*types.CrossChainAction, processing string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tTYPE\tCHAIN\tTXS\tSTATUS\tHASH\tFEE")
	for _, a := range actions {
		status := StatusColor(dominantStatus(a)).Sprint(ActionStatus(a))
		if a.ID == processing {
			status += " (submitting)"
		}
		hash := a.BatchHash
		if hash == "" {
			if tx := lastHashed(a); tx != nil {
				hash = tx.TransactionHash
			}
		}
		if hash == "" {
			hash = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			a.ID, a.Type, a.ChainID, len(a.AllTransactions()), status, hash, FormatEstimate(a.Estimated))
	}
	tw.Flush()
}

func lastHashed(a *types.CrossChainAction) *types.Transaction {
	var last *types.Transaction
	for _, tx := range a.AllTransactions() {
		if tx.TransactionHash != "" {
			last = tx
		}
	}
	return last
}

// PrintGroups prints every group, oldest first, marking the active one.
func PrintGroups(w io.Writer, groups []*types.Group, active string, processing map[string]string) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No dispatch groups.")
		return
	}
	bold := color.New(color.Bold)
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		id := g.ID.String()
		header := "Dispatch " + id
		if id == active {
			header += " " + color.CyanString("(active)")
		}
		bold.Fprintln(w, header)
		PrintActions(w, g.Actions, processing[id])
	}
}

// Progress summarizes how far a group got, e.g. "2/3 sent, 1/3 confirmed".
func Progress(g *types.Group) string {
	var total, sent, confirmed int
	for _, a := range g.Actions {
		for _, tx := range a.AllTransactions() {
			total++
			if tx.Status != types.TxStatusUnsent {
				sent++
			}
			if tx.Status == types.TxStatusConfirmed {
				confirmed++
			}
		}
	}
	return fmt.Sprintf("%d/%d sent, %d/%d confirmed", sent, total, confirmed, total)
}
