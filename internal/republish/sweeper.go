// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package republish

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically republishes pending reports so that events lost or
// dead-lettered upstream are eventually picked up again.
type Sweeper struct {
	runner    *Runner
	interval  time.Duration
	olderThan time.Duration
	limit     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Runner    *Runner
	Interval  time.Duration
	OlderThan time.Duration
	Limit     int
}

// NewSweeper creates a sweeper. It does nothing until Start is called.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		runner:    cfg.Runner,
		interval:  cfg.Interval,
		olderThan: cfg.OlderThan,
		limit:     cfg.Limit,
	}
}

// SweepOnce runs a single pending scan.
func (s *Sweeper) SweepOnce(ctx context.Context) (*Result, error) {
	return s.runner.Run(ctx, Request{
		Pending:   true,
		Limit:     s.limit,
		OlderThan: s.olderThan,
	})
}

// Start runs the sweep loop at the configured interval until Stop is
// called or ctx is done. A non-positive interval disables the loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("pending report sweep disabled")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(loopCtx); err != nil {
					slog.Error("pending report sweep failed", "error", err)
				}
			}
		}
	}()

	slog.Info("pending report sweep started",
		"interval", s.interval,
		"older_than", s.olderThan,
	)
}

// Stop shuts down the sweep loop and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
