package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
)

// Pool drains a Queue with a fixed number of concurrent workers
type Pool struct {
	queue   *Queue
	backend Backend
	workers int
}

// NewPool creates a pool of n workers (at least one)
func NewPool(queue *Queue, backend Backend, n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{queue: queue, backend: backend, workers: n}
}

// Run starts the workers and returns once every one of them found nothing
// left to claim. It only returns an error when ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group

	for w := 1; w <= p.workers; w++ {
		worker := w
		g.Go(func() error {
			return p.work(ctx, worker)
		})
	}

	return g.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, ok := p.queue.Claim()
		if !ok {
			return nil
		}

		log.Printf("[%s] worker %d: uploading %s (%d bytes)", shortID(item.ID), worker, item.File.Name, item.File.Size)
		p.process(ctx, item)
	}
}

// process uploads one claimed item and always leaves it terminal
func (p *Pool) process(ctx context.Context, item Item) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] upload panic recovered: %v", shortID(item.ID), r)
			p.fail(item.ID, fmt.Errorf("upload panicked: %v", r))
		}
	}()

	body, err := item.File.Open()
	if err != nil {
		p.fail(item.ID, fmt.Errorf("failed to read %s: %w", item.File.Name, err))
		return
	}
	defer body.Close()

	_, err = p.backend.UploadDocument(ctx, item.File.Name, item.File.Size, body, func(percent int) {
		p.progress(item.ID, percent)
	})
	if err != nil {
		p.fail(item.ID, err)
		return
	}

	p.complete(item.ID)
}

// progress records a higher percentage; reaching 100 moves the item to processing
func (p *Pool) progress(id string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	_, err := p.queue.Update(id, func(it Item) (Item, bool) {
		if it.Status != StatusUploading || percent <= it.Progress {
			return it, false
		}
		it.Progress = percent
		if percent == 100 {
			it.Status = StatusProcessing
		}
		return it, true
	})
	if err != nil {
		log.Printf("[%s] progress update rejected: %v", shortID(id), err)
	}
}

// complete passes through processing so observers always see it before done
func (p *Pool) complete(id string) {
	_, err := p.queue.Update(id, func(it Item) (Item, bool) {
		if it.Status != StatusUploading {
			return it, false
		}
		it.Status = StatusProcessing
		it.Progress = 100
		return it, true
	})
	if err == nil {
		_, err = p.queue.Update(id, func(it Item) (Item, bool) {
			it.Status = StatusDone
			it.Progress = 100
			return it, true
		})
	}

	if err != nil {
		log.Printf("[%s] completion update rejected: %v", shortID(id), err)
		return
	}
	log.Printf("[%s] %s (100%%): indexed", shortID(id), StatusDone)
}

func (p *Pool) fail(id string, cause error) {
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) {
		msg = "upload cancelled"
	}

	it, err := p.queue.Update(id, func(it Item) (Item, bool) {
		if it.Status.IsTerminal() {
			return it, false
		}
		it.Status = StatusError
		it.Error = msg
		return it, true
	})
	if err != nil {
		log.Printf("[%s] failure update rejected: %v", shortID(id), err)
		return
	}
	log.Printf("[%s] %s (%d%%): %s", shortID(id), it.Status, it.Progress, msg)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
