// Package syncer reconciles the local store with the remote spreadsheet at
// month granularity.
//
// Policies, fixed per direction: a push with an explicit month list replaces
// each remote partition wholesale; a push without months merges only the
// months holding dirty items, preserving remote rows the store has no opinion
// about. A pull treats the remote as authoritative for core fields, applies
// augmentation merge-only, and honors the "Delete" category sentinel.
//
// Months sync strictly in sequence: the remote rate limiter is shared across
// all partitions, so there is nothing to gain from fanning out. A failed
// month aborts the run without being marked synced; batches already flushed
// for it stay applied remotely, and re-running the same command converges
// because every write is idempotent.
package syncer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-sync/internal/fx"
	"github.com/dvloznov/budget-sync/internal/gsheet"
	"github.com/dvloznov/budget-sync/internal/ledger"
	"github.com/dvloznov/budget-sync/internal/logger"
	"github.com/dvloznov/budget-sync/internal/store"
)

// DeleteSentinel is the reserved category value that, observed during pull,
// deletes the item locally instead of updating it.
const DeleteSentinel = "Delete"

// defaultPullWindow is how many trailing months a pull covers when no months
// are given.
const defaultPullWindow = 3

// Syncer drives push and pull for one store / one spreadsheet pair. It owns
// the gateway connection for the duration of a call; no other goroutine may
// touch either side while a sync runs.
type Syncer struct {
	store     *store.Store
	conn      *gsheet.Connection
	remote    *gsheet.LedgerRepo
	converter fx.Converter
}

// New wires a syncer over an open store and gateway connection.
func New(st *store.Store, conn *gsheet.Connection, converter fx.Converter) *Syncer {
	return &Syncer{
		store:     st,
		conn:      conn,
		remote:    gsheet.NewLedgerRepo(conn),
		converter: converter,
	}
}

// Push mirrors local months to the remote. With months given, each remote
// partition is replaced wholesale; with none, only months holding dirty items
// are merged in. Each month is flushed before the next one starts, and is
// marked synced only after its flush succeeded.
func (s *Syncer) Push(ctx context.Context, months []string) error {
	log := logger.FromContext(ctx)

	if len(months) > 0 {
		for _, month := range months {
			items, err := s.store.MonthData(ctx, month)
			if err != nil {
				return fmt.Errorf("push %s: %w", month, err)
			}
			log.Info().Str("month", month).Int("items", len(items)).Msg("Pushing month (replace)")
			if err := s.remote.ReplaceMonthData(ctx, month, items); err != nil {
				s.conn.Rollback()
				return fmt.Errorf("push %s: %w", month, err)
			}
			if err := s.finishMonth(ctx, month); err != nil {
				return err
			}
		}
		return nil
	}

	batches, err := s.store.UpdatedDataByMonth(ctx)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if len(batches) == 0 {
		log.Info().Msg("Nothing to push, no dirty items")
		return nil
	}
	for _, batch := range batches {
		log.Info().Str("month", batch.Month).Int("items", len(batch.Items)).Msg("Pushing month (merge)")
		if err := s.remote.UpdateMonthData(ctx, batch.Month, batch.Items); err != nil {
			s.conn.Rollback()
			return fmt.Errorf("push %s: %w", batch.Month, err)
		}
		if err := s.finishMonth(ctx, batch.Month); err != nil {
			return err
		}
	}
	return nil
}

// finishMonth flushes the queued writes for one month and, only on success,
// clears the month's dirty flags. On failure the unflushed tail is discarded:
// batches already applied remotely stay, the month stays dirty, and the next
// run re-converges.
func (s *Syncer) finishMonth(ctx context.Context, month string) error {
	if err := s.conn.Flush(ctx); err != nil {
		s.conn.Rollback()
		return fmt.Errorf("push %s: %w", month, err)
	}
	if err := s.store.MarkMonthSynced(ctx, month); err != nil {
		return fmt.Errorf("push %s: %w", month, err)
	}
	return nil
}

// Pull reconciles remote months into the store. Defaults to the trailing
// three months when no months are given.
func (s *Syncer) Pull(ctx context.Context, months []string) error {
	log := logger.FromContext(ctx)
	if len(months) == 0 {
		months = ledger.LastMonths(defaultPullWindow)
	}

	for _, month := range months {
		items, err := s.remote.MonthData(ctx, month)
		if err != nil {
			return fmt.Errorf("pull %s: %w", month, err)
		}

		var (
			keep     []ledger.Item
			overlays []ledger.AugmentedData
			deletes  []string
		)
		for _, item := range items {
			if item.Augmented != nil && item.Augmented.Category == DeleteSentinel {
				deletes = append(deletes, item.TxID)
				continue
			}
			keep = append(keep, item)
			if !item.Augmented.Empty() {
				overlays = append(overlays, *item.Augmented)
			}
		}

		if err := s.store.Delete(ctx, deletes); err != nil {
			return fmt.Errorf("pull %s: %w", month, err)
		}
		if err := s.store.Insert(ctx, keep, store.Replace); err != nil {
			return fmt.Errorf("pull %s: %w", month, err)
		}
		if err := s.store.SetAugmentedData(ctx, overlays); err != nil {
			return fmt.Errorf("pull %s: %w", month, err)
		}
		if err := s.normalizeMonth(ctx, month); err != nil {
			return fmt.Errorf("pull %s: %w", month, err)
		}

		log.Info().
			Str("month", month).
			Int("items", len(keep)).
			Int("deleted", len(deletes)).
			Msg("Pulled month")
	}
	return nil
}

// normalizeMonth backfills amount_eur for items that lack it. It runs as a
// separate pass after the reconciliation merge.
func (s *Syncer) normalizeMonth(ctx context.Context, month string) error {
	if s.converter == nil {
		return nil
	}
	items, err := s.store.MonthData(ctx, month)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	var overlays []ledger.AugmentedData
	for _, item := range items {
		if item.Augmented != nil && item.Augmented.AmountEUR.Valid {
			continue
		}
		eur, err := s.converter.Convert(ctx, item.Amount, item.Currency, item.TxDatetime)
		if err != nil {
			// A missing rate should not block reconciliation; the next pull
			// retries the backfill.
			log.Warn().Err(err).Str("tx_id", item.TxID).Str("currency", item.Currency).
				Msg("Skipping EUR normalization")
			continue
		}
		overlays = append(overlays, ledger.AugmentedData{
			TxID:      item.TxID,
			AmountEUR: decimal.NullDecimal{Decimal: eur, Valid: true},
		})
	}
	return s.store.SetAugmentedData(ctx, overlays)
}
