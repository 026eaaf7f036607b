// Package resolver turns a sufficient medical context into a recommendation
// bundle, trying the knowledge cache, then the oracle, then a fixed fallback.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"kairos-intake/internal/catalog"
	"kairos-intake/internal/intake"
	"kairos-intake/internal/knowledge"
	"kairos-intake/internal/oracle"
	"kairos-intake/internal/platform/metrics"
)

// ErrCacheWrite is returned together with a usable bundle when an oracle
// answer could not be written to the knowledge store.
var ErrCacheWrite = errors.New("knowledge store write failed")

const DefaultCacheMinConfidence = 0.70

type Options struct {
	// CacheMinConfidence is the lowest oracle confidence written to the cache.
	CacheMinConfidence float64
}

type Request struct {
	SessionID string
	Context   *intake.MedicalContext
	// Turns are the patient's utterances, oldest first.
	Turns []string
}

type Resolver struct {
	store   knowledge.Store
	oracle  oracle.Client
	catalog catalog.Catalog
	opts    Options
	flight  singleflight.Group
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func New(store knowledge.Store, oc oracle.Client, cat catalog.Catalog, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Resolver {
	if opts.CacheMinConfidence <= 0 {
		opts.CacheMinConfidence = DefaultCacheMinConfidence
	}
	if oc == nil {
		oc = oracle.Disabled{}
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Resolver{
		store:   store,
		oracle:  oc,
		catalog: cat,
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

type flightResult struct {
	draft    *oracle.Draft
	cacheErr error
}

// Resolve always returns a bundle. The error is non-nil only when the
// bundle came from the oracle but could not be cached; it wraps
// ErrCacheWrite.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Bundle, error) {
	mc := req.Context
	if mc == nil {
		mc = intake.New(intake.DefaultPolicy())
	}
	complaint := mc.Complaint()
	fp := knowledge.Fingerprint(complaint)
	log := r.logger.With().Str("session_id", req.SessionID).Str("fingerprint", fp).Logger()

	if fp != "" && r.store != nil {
		entry, err := r.store.Find(ctx, fp)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("knowledge lookup failed, treating as miss")
		case entry != nil:
			log.Info().Str("condition", entry.Condition).Int("usage", entry.UsageCount).Msg("knowledge cache hit")
			return r.done(r.fromEntry(entry, complaint)), nil
		}
	}

	if r.oracle.Enabled(ctx) {
		// the shared call outlives any single caller; the oracle client
		// bounds it with its own timeout
		shared := context.WithoutCancel(ctx)
		ch := r.flight.DoChan(fp, func() (any, error) {
			return r.consult(shared, req, mc, fp)
		})
		select {
		case res := <-ch:
			if res.Err == nil {
				fr := res.Val.(flightResult)
				b := r.fromDraft(fr.draft, complaint)
				if res.Shared {
					log.Debug().Msg("shared in-flight oracle answer")
				}
				if fr.cacheErr != nil {
					return r.done(b), fmt.Errorf("%w: %v", ErrCacheWrite, fr.cacheErr)
				}
				return r.done(b), nil
			}
			log.Warn().Err(res.Err).Str("outcome", oracle.OutcomeOf(res.Err)).Msg("oracle failed, using fallback")
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Msg("caller gone before the oracle answered, using fallback")
		}
	}

	return r.done(r.fallback(complaint)), nil
}

// consult runs one oracle call and writes an accepted answer through to
// the cache.
func (r *Resolver) consult(ctx context.Context, req Request, mc *intake.MedicalContext, fp string) (any, error) {
	draft, err := r.oracle.Resolve(ctx, oracle.Prompt{
		SessionID:      req.SessionID,
		Complaint:      mc.Complaint(),
		ContextSummary: mc.Summary(),
		Turns:          req.Turns,
		CatalogSummary: r.catalog.Summary(),
	})
	if err != nil {
		return nil, err
	}

	res := flightResult{draft: draft}
	if draft.Confidence < r.opts.CacheMinConfidence || r.store == nil {
		r.logger.Info().Str("condition", draft.Condition).Float64("confidence", draft.Confidence).
			Msg("oracle answer below cache threshold, not cached")
		return res, nil
	}

	b := r.fromDraft(draft, mc.Complaint())
	entry, err := r.store.Upsert(ctx, entryFor(draft, fp, b))
	if err != nil {
		r.logger.Error().Err(err).Str("condition", draft.Condition).Msg("failed to cache oracle answer")
		res.cacheErr = err
		return res, nil
	}
	r.logger.Info().Str("condition", entry.Condition).Int("usage", entry.UsageCount).Msg("oracle answer cached")
	return res, nil
}

func (r *Resolver) done(b *Bundle) *Bundle {
	r.metrics.ObserveTier(string(b.Tier))
	return b
}
