// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"alert-trader/internal/models"
)

// LedgerStore is the durable row store behind the position ledger. Rows are
// keyed by entry order id and addressed by handle once found.
type LedgerStore interface {
	AppendRow(ctx context.Context, row models.LedgerRow) (models.RowHandle, error)
	FindRow(ctx context.Context, entryOrderID string) (models.RowHandle, error)
	GetRow(ctx context.Context, handle models.RowHandle) (models.LedgerRow, error)
	UpdateCell(ctx context.Context, handle models.RowHandle, column models.Column, value string) error
	UpdateCells(ctx context.Context, handle models.RowHandle, cells map[models.Column]string) error
	ReadAllRows(ctx context.Context) ([]models.LedgerRow, error)
}

// AlertQueue durably holds alerts whose entry could not be placed.
type AlertQueue interface {
	SaveDeferred(ctx context.Context, alert *models.DeferredAlert) error
	ListDeferred(ctx context.Context) ([]models.DeferredAlert, error)
	CountDeferredSince(ctx context.Context, since time.Time) (int, error)
	RemoveDeferred(ctx context.Context, id string) error
	ClearDeferred(ctx context.Context) (int, error)
}

// RowFilter narrows ledger listings for the CLI.
type RowFilter struct {
	OpenOnly bool
	Date     string // YYYY-MM-DD, empty for all
}

// Match reports whether the row passes the filter.
func (f RowFilter) Match(row models.LedgerRow) bool {
	if f.OpenOnly && row.IsClosed() {
		return false
	}
	if f.Date != "" && row.Date != f.Date {
		return false
	}
	return true
}
