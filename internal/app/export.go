package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"autohodl/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders settled deposits as CSV and/or a cumulative savings PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, err := a.openPostgres(ctx)
	if err != nil {
		return fmt.Errorf("%w; cannot export", err)
	}
	defer store.Close()

	deposits, err := store.ListSettledBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(deposits) == 0 {
		a.Logger.Info().Msg("no settled deposits found for export window")
		return nil
	}

	decimals := a.Config.Chain.TokenDecimals
	a.Logger.Info().Int("deposits", len(deposits)).Msg("exporting deposits")

	if opts.CSVPath != "" {
		if err := writeDepositsCSV(opts.CSVPath, deposits, decimals); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		points := downsample(cumulativeSavings(deposits, decimals), opts.MaxPoints)
		if len(points) < 2 {
			a.Logger.Warn().Msg("need at least two deposits to draw a chart")
			return nil
		}
		if err := writeSavingsPNG(opts.PNGPath, points); err != nil {
			return err
		}
	}

	return nil
}

type savingsPoint struct {
	At    time.Time
	Total decimal.Decimal
}

// cumulativeSavings expects deposits ordered by deposit time.
func cumulativeSavings(deposits []storage.SpendEvent, decimals int32) []savingsPoint {
	points := make([]savingsPoint, 0, len(deposits))
	total := decimal.Zero
	for _, d := range deposits {
		if d.YieldDepositAt == nil || d.YieldDepositAmount == nil {
			continue
		}
		total = total.Add(decimal.NewFromBigInt(d.YieldDepositAmount, -decimals))
		points = append(points, savingsPoint{At: *d.YieldDepositAt, Total: total})
	}
	return points
}

func downsample[T any](items []T, max int) []T {
	if max <= 1 || len(items) <= max {
		return items
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeDepositsCSV(path string, deposits []storage.SpendEvent, decimals int32) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"deposit_at", "spend_tx_hash", "account_id", "spend_amount", "deposit_amount", "deposit_chain_id", "deposit_token", "deposit_tx_hash"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, d := range deposits {
		record := []string{
			formatTimePtr(d.YieldDepositAt),
			d.SpendTxHash,
			derefString(d.AccountID),
			decimal.NewFromBigInt(d.SpendAmount, -decimals).String(),
			decimal.NewFromBigInt(d.YieldDepositAmount, -decimals).String(),
			formatInt64Ptr(d.YieldDepositChainID),
			derefString(d.YieldDepositToken),
			derefString(d.YieldDepositTxHash),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSavingsPNG(path string, points []savingsPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.At
		y[i] = p.Total.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Cumulative savings",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Saved",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
