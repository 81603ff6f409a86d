package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"autohodl/internal/roundup"
	"autohodl/internal/storage"
)

// Show prints recent spend events and their settlement state.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openPostgres(ctx)
	if err != nil {
		return fmt.Errorf("%w; cannot show spend events", err)
	}
	defer store.Close()

	records, err := store.ListRecentSpendEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeSpendTable(os.Stdout, records, a.Config.Chain.TokenDecimals)
}

func writeSpendTable(out io.Writer, records []storage.SpendEvent, decimals int32) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no spend events found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Seen (UTC)\tSpend Tx\tAmount\tStatus\tAttempts\tDeposit\tDeposit Chain\tDeposit Tx\tReason")

	for _, record := range records {
		deposit, depositChain, depositTx, reason := "-", "-", "-", ""
		if record.YieldDepositAmount != nil {
			deposit = roundup.Format(record.YieldDepositAmount, decimals)
		}
		if record.YieldDepositChainID != nil {
			depositChain = fmt.Sprintf("%d", *record.YieldDepositChainID)
		}
		if record.YieldDepositTxHash != nil {
			depositTx = shortHash(*record.YieldDepositTxHash)
		}
		if record.Reason != nil {
			reason = sanitizeInline(*record.Reason)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			record.CreatedAt.UTC().Format(time.RFC3339),
			shortHash(record.SpendTxHash),
			roundup.Format(record.SpendAmount, decimals),
			record.Status,
			record.Attempts,
			deposit,
			depositChain,
			depositTx,
			reason,
		)
	}

	return writer.Flush()
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
