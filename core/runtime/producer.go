package runtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stakechain/core/types"
)

// Source supplies the extrinsics of the next block. Requeue returns
// extrinsics of a block that failed to execute to the front of the source.
type Source interface {
	Drain(limit int) []Extrinsic
	Requeue(exts []Extrinsic)
}

// Producer builds a block from the source on every tick and executes it.
type Producer struct {
	rt       *Runtime
	source   Source
	author   types.AccountID
	interval time.Duration
	maxCalls int
	now      func() time.Time
	logger   *slog.Logger
}

// NewProducer returns a producer authoring blocks as author.
func NewProducer(rt *Runtime, source Source, author types.AccountID, interval time.Duration, maxCalls int, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		rt:       rt,
		source:   source,
		author:   author,
		interval: interval,
		maxCalls: maxCalls,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the wall clock used for block timestamps.
func (p *Producer) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// ProduceBlock executes the next block. Timestamps never run backwards even
// if the wall clock does. When execution fails the drained extrinsics go back
// to the source.
func (p *Producer) ProduceBlock(ctx context.Context) (*BlockResult, error) {
	head := p.rt.Head()
	if head == nil {
		return nil, ErrNotInitialized
	}
	ts := uint64(p.now().UnixMilli())
	if ts < head.Timestamp {
		ts = head.Timestamp
	}
	block := Block{
		Number:     head.Number + 1,
		Timestamp:  ts,
		Author:     p.author,
		Extrinsics: p.source.Drain(p.maxCalls),
	}
	result, err := p.rt.ExecuteBlock(ctx, block)
	if err != nil {
		if len(block.Extrinsics) > 0 {
			p.source.Requeue(block.Extrinsics)
			p.logger.Warn("block failed, extrinsics requeued",
				slog.Uint64("height", block.Number),
				slog.Int("calls", len(block.Extrinsics)))
		}
		return nil, err
	}
	return result, nil
}

// Run produces a block every interval until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := p.ProduceBlock(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				p.logger.Error("block production failed", slog.Any("error", err))
				continue
			}
			failed := 0
			for _, receipt := range result.Receipts {
				if !receipt.Success() {
					failed++
				}
			}
			p.logger.Debug("block produced",
				slog.Uint64("height", result.Number),
				slog.Int("calls", len(result.Receipts)),
				slog.Int("failed", failed),
				slog.Int("events", len(result.Events)))
		}
	}
}
