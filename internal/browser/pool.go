package browser

import (
	"context"
	"sync"

	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// Pooled bounds how many drivers the wrapped factory can have open at once.
// NewDriver takes a slot, blocking until one frees or the context ends; the
// slot is returned when the driver closes. Every production caller goes
// through this wrapper so one instance never opens more browser contexts
// than it is configured for.
func Pooled(f Factory, size int) Factory {
	if size < 1 {
		size = 1
	}
	return &pooledFactory{inner: f, slots: make(chan struct{}, size)}
}

type pooledFactory struct {
	inner Factory
	slots chan struct{}
}

func (p *pooledFactory) NewDriver(ctx context.Context, sess *vault.Session) (Driver, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d, err := p.inner.NewDriver(ctx, sess)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return &pooledDriver{Driver: d, free: p.slots}, nil
}

// pooledDriver returns its slot exactly once, however many times Close is
// called.
type pooledDriver struct {
	Driver
	free chan struct{}
	once sync.Once
}

func (d *pooledDriver) Close() error {
	err := d.Driver.Close()
	d.once.Do(func() { <-d.free })
	return err
}
