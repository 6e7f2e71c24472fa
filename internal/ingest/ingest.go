// Package ingest refreshes catalog prices from the market price source.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/trading-sim/internal/bus"
	"github.com/atmx/trading-sim/internal/events"
	"github.com/atmx/trading-sim/internal/market"
	"github.com/atmx/trading-sim/internal/metrics"
	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/store"
)

// Revaluer recomputes profit for every account.
type Revaluer interface {
	RecalculateAll(ctx context.Context) (int, error)
}

// Config tunes a Job.
type Config struct {
	QuoteTimeout time.Duration // per symbol
	Concurrency  int           // parallel quotes
}

// Job is one price ingestion cycle: quote every listed asset, store the new
// prices and history, publish price.updated per asset and re-value accounts.
// A symbol that fails to quote keeps its old price and does not affect the
// others.
type Job struct {
	store    store.Store
	source   market.PriceSource
	bus      bus.Bus
	revaluer Revaluer
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// NewJob wires an ingestion job.
func NewJob(st store.Store, src market.PriceSource, b bus.Bus, rv Revaluer, cfg Config, log zerolog.Logger) *Job {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = market.DefaultTimeout
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Job{
		store:    st,
		source:   src,
		bus:      b,
		revaluer: rv,
		cfg:      cfg,
		log:      log.With().Str("component", "ingest").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name implements scheduler.Job.
func (j *Job) Name() string { return "price_ingestion" }

// Summary reports what a cycle did.
type Summary struct {
	Assets    int
	Updated   int
	Failed    int
	Published int
	Revalued  int
}

// Run implements scheduler.Job.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.RunCycle(ctx)
	return err
}

// RunCycle performs one ingestion cycle. Per-asset failures are logged and
// counted; an error is returned only when the cycle could not run at all.
func (j *Job) RunCycle(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion cycle panic: %v", r)
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.IngestionCycles.WithLabelValues(status).Inc()
		metrics.IngestionDuration.Observe(time.Since(start).Seconds())
	}()

	assets, err := j.store.ListAssets(ctx)
	if err != nil {
		return sum, fmt.Errorf("load catalog: %w", err)
	}
	sum.Assets = len(assets)

	var updated, failed, published atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, asset := range assets {
		g.Go(func() error {
			ok, pub := j.refresh(gctx, asset)
			if !ok {
				failed.Add(1)
				return nil
			}
			updated.Add(1)
			if pub {
				published.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Updated = int(updated.Load())
	sum.Failed = int(failed.Load())
	sum.Published = int(published.Load())

	if err := ctx.Err(); err != nil {
		return sum, err
	}

	sum.Revalued, err = j.revaluer.RecalculateAll(ctx)
	if err != nil {
		return sum, fmt.Errorf("revalue accounts: %w", err)
	}

	j.log.Info().
		Int("assets", sum.Assets).
		Int("updated", sum.Updated).
		Int("failed", sum.Failed).
		Int("published", sum.Published).
		Int("revalued", sum.Revalued).
		Dur("elapsed", time.Since(start)).
		Msg("ingestion cycle complete")
	return sum, nil
}

// refresh quotes and stores one asset. It reports whether the price was
// stored and whether the event was published.
func (j *Job) refresh(ctx context.Context, asset model.Asset) (stored, published bool) {
	log := j.log.With().Str("asset_id", asset.ID).Str("symbol", asset.Symbol).Logger()

	price, err := j.quote(ctx, asset.Symbol)
	if err != nil {
		metrics.QuoteFailures.Inc()
		log.Warn().Err(err).Msg("quote failed, price unchanged")
		return false, false
	}

	if err := j.store.UpdateAssetPrice(ctx, asset.ID, price); err != nil {
		log.Error().Err(err).Msg("price update failed")
		return false, false
	}
	ts := j.now()
	if err := j.store.AppendPricePoint(ctx, model.PricePoint{AssetID: asset.ID, Price: price, Timestamp: ts}); err != nil {
		log.Error().Err(err).Msg("price history append failed")
	}

	payload, err := events.Encode(events.NewPriceUpdated(asset.ID, asset.Symbol, asset.Name, price, ts))
	if err == nil {
		err = j.bus.Publish(ctx, events.TopicPriceUpdated, payload)
	}
	if err != nil {
		log.Error().Err(err).Msg("publish price.updated failed")
		return true, false
	}
	log.Debug().Str("price", price.String()).Msg("price updated")
	return true, true
}

// quote calls the source under the per-symbol timeout. A panic in the
// source counts as a failed quote.
func (j *Job) quote(ctx context.Context, symbol string) (price decimal.Decimal, err error) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.QuoteTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: source panic: %v", model.ErrExternalSource, r)
		}
	}()

	price, err = j.source.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", market.ErrUnavailable, price)
	}
	return price, nil
}
