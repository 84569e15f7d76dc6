package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalop/mqlink"
)

// stageTiming is the time spent in one stage of an attempt.
type stageTiming struct {
	Stage    mqlink.Stage
	Duration time.Duration
}

// result is the outcome of probing one broker.
type result struct {
	Broker   string
	ClientID string
	Stages   []stageTiming
	Total    time.Duration
	Err      error

	SessionPresent bool
}

// probe connects to broker once, then disconnects.
func probe(ctx context.Context, broker string, timeout time.Duration, opts ...mqlink.Option) result {
	res := result{
		Broker:   broker,
		ClientID: "mqlink-probe-" + uuid.NewString()[:8],
	}

	var mu sync.Mutex
	start := time.Now()
	entered := start
	onStage := func(from, to mqlink.Stage) {
		now := time.Now()
		mu.Lock()
		defer mu.Unlock()
		if from != mqlink.StageIdle {
			res.Stages = append(res.Stages, stageTiming{Stage: from, Duration: now.Sub(entered)})
		}
		entered = now
	}

	all := append([]mqlink.Option{
		mqlink.WithClientID(res.ClientID),
		mqlink.WithOnStageChange(onStage),
	}, opts...)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c, err := mqlink.Dial(ctx, broker, all...)
	res.Total = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	res.SessionPresent = c.SessionPresent()
	if err := c.Disconnect(ctx); err != nil {
		res.Err = err
	}
	return res
}

func (r result) log(logger *slog.Logger) {
	attrs := []any{
		slog.String("broker", r.Broker),
		slog.String("client_id", r.ClientID),
		slog.Duration("total", r.Total),
	}
	stages := make([]any, 0, len(r.Stages))
	for _, st := range r.Stages {
		stages = append(stages, slog.Duration(st.Stage.String(), st.Duration))
	}
	attrs = append(attrs, slog.Group("stages", stages...))

	if r.Err != nil {
		logger.Error("probe failed", append(attrs, slog.String("error", r.Err.Error()))...)
		return
	}
	logger.Info("probe succeeded", append(attrs, slog.Bool("session_present", r.SessionPresent))...)
}
