package trading

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alert-trader/internal/ledger"
	"alert-trader/internal/logging"
	"alert-trader/internal/models"
)

// RecoveryReport summarizes a startup recovery pass.
type RecoveryReport struct {
	Active  int
	Pending int
	Skipped int
}

// Recover rebuilds the book from the open ledger rows: protected rows
// become active positions and unfilled entries become pending entries.
// Malformed rows are skipped.
func Recover(ctx context.Context, l *ledger.Ledger, book *PositionBook, now time.Time, logger zerolog.Logger) (RecoveryReport, error) {
	log := logging.WithComponent(logger, "recovery")

	var report RecoveryReport
	rows, err := l.OpenRows(ctx)
	if err != nil {
		return report, err
	}

	for _, row := range rows {
		action, ok := row.ParsedAction()
		if !ok || row.EntryOrderID == "" || row.Symbol == "" {
			report.Skipped++
			log.Warn().Int64("row", int64(row.Handle)).Msg("Skipping malformed ledger row")
			continue
		}

		entryAt := now
		if strings.TrimSpace(row.EntryTimestamp) != "" {
			t, err := row.EntryTimeOn(now)
			if err != nil {
				report.Skipped++
				log.Warn().Err(err).Str("entry_order_id", row.EntryOrderID).Msg("Skipping row with unreadable entry timestamp")
				continue
			}
			entryAt = t
		}

		positionID := models.PositionID(row.Symbol, action, row.EntryOrderID)
		switch row.Status {
		case models.StatusSLPlaced:
			if row.SLOrderID == "" {
				report.Skipped++
				continue
			}
			pos := models.Position{
				PositionID:    positionID,
				Symbol:        row.Symbol,
				Action:        action,
				EntryPrice:    row.Entry(),
				StopLossPrice: row.StopLoss(),
				EntryOrderID:  row.EntryOrderID,
				SLOrderID:     row.SLOrderID,
				EntryTime:     entryAt,
				ExitTime:      ExitTime(entryAt),
			}
			if err := book.AddPosition(pos); err != nil {
				report.Skipped++
				continue
			}
			report.Active++

		case models.StatusPending:
			book.AddPending(models.PendingEntry{
				PositionID:    positionID,
				Symbol:        row.Symbol,
				Action:        action,
				EntryPrice:    row.Entry(),
				StopLossPrice: row.StopLoss(),
				EntryOrderID:  row.EntryOrderID,
				AlertTime:     entryAt,
			})
			report.Pending++

		default:
			report.Skipped++
		}
	}

	log.Info().
		Int("active", report.Active).
		Int("pending", report.Pending).
		Int("skipped", report.Skipped).
		Msg("Recovered state from ledger")
	return report, nil
}
