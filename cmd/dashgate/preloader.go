package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/TONwisdomyang/crypto-stock-tracker/datafetch"
)

// Preloader warms the cache at startup and, with a positive interval,
// refreshes the same documents on a fixed schedule.
type Preloader struct {
	client   *datafetch.Client
	paths    []string
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPreloader creates a preloader for paths.
func NewPreloader(client *datafetch.Client, paths []string, interval time.Duration, logger *zap.Logger) *Preloader {
	return &Preloader{
		client:   client,
		paths:    paths,
		interval: interval,
		clock:    clock.New(),
		logger:   logger,
	}
}

// Run performs one preload pass. Refreshing ignores cache freshness so a
// periodic pass always picks up newly published documents.
func (p *Preloader) Run(ctx context.Context, refresh bool) error {
	if len(p.paths) == 0 {
		return nil
	}
	start := p.clock.Now()

	var err error
	if refresh {
		err = p.refreshAll(ctx)
	} else {
		err = p.client.Preload(ctx, p.paths, p.client.Defaults())
	}

	if err != nil {
		p.logger.Warn("Preload pass failed", zap.Bool("refresh", refresh), zap.Error(err))
		return err
	}
	p.logger.Info("Preload pass complete",
		zap.Int("paths", len(p.paths)),
		zap.Bool("refresh", refresh),
		zap.Duration("took", p.clock.Since(start)))
	return nil
}

func (p *Preloader) refreshAll(ctx context.Context) error {
	var errs []error
	for _, path := range p.paths {
		if _, err := p.client.Refresh(ctx, path, p.client.Defaults()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start runs an initial pass and, when an interval is set, launches the
// periodic loop. It does not block on the periodic loop.
func (p *Preloader) Start(ctx context.Context) {
	_ = p.Run(ctx, false)

	if p.interval <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	ticker := p.clock.Ticker(p.interval)

	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = p.Run(loopCtx, true)
			case <-loopCtx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic loop and waits for an in-progress pass to end.
func (p *Preloader) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
