package mirror

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// copyConcurrency caps parallel copies in CopyMessages.
const copyConcurrency = 6

// CopyResult reports a bulk copy.
type CopyResult struct {
	Copied int
	Failed map[int]error // source message id -> error
}

// CopyMessages copies a list of source messages to a target, bypassing
// mirrors and mappings. progress, when set, is called after each message
// with the number processed so far; it may be called from several goroutines.
func (s *Service) CopyMessages(ctx context.Context, sourceChatID int64, messageIDs []int, to Target, progress func(done, total int)) (*CopyResult, error) {
	if sourceChatID == 0 || to.ChatID == 0 {
		return nil, fmt.Errorf("%w: chat ids must be non-zero", ErrInvalidMirror)
	}
	if sourceChatID == to.ChatID {
		return nil, fmt.Errorf("%w: source and target are the same chat", ErrInvalidMirror)
	}

	result := &CopyResult{Failed: map[int]error{}}
	var (
		mu     sync.Mutex
		done   atomic.Int64
		copied atomic.Int64
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(copyConcurrency)
	for _, id := range messageIDs {
		g.Go(func() error {
			err := s.guard.call(gCtx, to.ChatID, func(ctx context.Context) error {
				_, err := s.sender.CopyMessage(ctx, sourceChatID, id, to)
				return err
			})
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			if err != nil {
				s.metrics.delivery("copy", "error")
				mu.Lock()
				result.Failed[id] = err
				mu.Unlock()
			} else {
				s.metrics.delivery("copy", "ok")
				copied.Add(1)
			}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), len(messageIDs))
			}
			return nil
		})
	}
	err := g.Wait()
	result.Copied = int(copied.Load())

	s.logger.InfoContext(ctx, "Bulk copy finished", "source_chat_id", sourceChatID,
		"target_chat_id", to.ChatID, "requested", len(messageIDs), "copied", result.Copied, "failed", len(result.Failed))
	return result, err
}
