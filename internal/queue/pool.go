package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Pool runs independent consumers, each owning its reader, so a slow order
// never holds up the others.
type Pool struct {
	consumers []*Consumer
	readers   []Reader
	wg        sync.WaitGroup
	closed    atomic.Bool
}

func NewPool(n int, newReader func() Reader, handler MessageHandler, writer Writer, opts Options, logger *zap.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	for i := 0; i < n; i++ {
		r := newReader()
		p.readers = append(p.readers, r)
		p.consumers = append(p.consumers, NewConsumer(i, handler, r, writer, opts, logger))
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(len(p.consumers))
	for _, c := range p.consumers {
		go func(c *Consumer) {
			defer p.wg.Done()
			c.Run(ctx)
		}(c)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close closes every reader once; call it after Wait.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, r := range p.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
