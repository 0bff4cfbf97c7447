package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pyama86/RCRA/domain/repository"
)

// Collector は監視対象のロググループを定期的にポーリングして
// エラーイベントをパイプラインへ流す
type Collector struct {
	logs     repository.LogEventRepository
	pipeline *Pipeline
	groups   []string
	interval time.Duration
	cursors  map[string]time.Time
}

func NewCollector(logs repository.LogEventRepository, pipeline *Pipeline, groups []string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	cursors := make(map[string]time.Time, len(groups))
	now := time.Now()
	for _, group := range groups {
		cursors[group] = now
	}
	return &Collector{
		logs:     logs,
		pipeline: pipeline,
		groups:   groups,
		interval: interval,
		cursors:  cursors,
	}
}

func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *Collector) poll(ctx context.Context) {
	for _, group := range c.groups {
		since := c.cursors[group]
		events, err := c.logs.ErrorEvents(ctx, group, since)
		if err != nil {
			slog.Error("Failed to fetch log events", slog.String("log_group", group), slog.Any("err", err))
			continue
		}

		for _, ev := range events {
			// ストア側のStartTimeは包含的なので、処理済みイベントの直後まで
			// カーソルを進めないと同じイベントを毎回拾い直してしまう
			if next := ev.Timestamp.Add(time.Millisecond); next.After(c.cursors[group]) {
				c.cursors[group] = next
			}
			if _, err := c.pipeline.Process(ctx, ev); err != nil {
				slog.Error("Failed to process log event",
					slog.String("log_group", group),
					slog.Any("err", err))
			}
		}
	}
}
