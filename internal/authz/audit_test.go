package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversEvents(t *testing.T) {
	sink := &collectingSink{}
	d := NewAuditDispatcher(sink, 8, nil)

	for i := 0; i < 5; i++ {
		d.Dispatch(AuditEvent{PrincipalID: "u1", TenantID: "T1", Action: ActionView, Resource: ResourceDocument})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	events := sink.all()
	require.Len(t, events, 5)
	for _, event := range events {
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.At.IsZero())
	}
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDropsNewestOnOverflow(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := NewAuditDispatcher(sink, 2, nil)

	// One event occupies the sink, two fill the queue, the rest drop.
	for i := 0; i < 10; i++ {
		d.Dispatch(AuditEvent{PrincipalID: "u1", TenantID: "T1"})
	}
	assert.GreaterOrEqual(t, d.Dropped(), uint64(1))

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.LessOrEqual(t, len(sink.all()), 10-int(d.Dropped()))
}

func TestDispatcherToleratesSinkErrors(t *testing.T) {
	sink := &failingSink{}
	d := NewAuditDispatcher(sink, 8, nil)

	d.Dispatch(AuditEvent{PrincipalID: "u1", TenantID: "T1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, d.Close(ctx))
}

func TestDispatcherIgnoresDispatchAfterClose(t *testing.T) {
	sink := &collectingSink{}
	d := NewAuditDispatcher(sink, 8, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	d.Dispatch(AuditEvent{PrincipalID: "u1", TenantID: "T1"})
	assert.Empty(t, sink.all())
}

type blockingSink struct {
	collectingSink
	release chan struct{}
}

func (s *blockingSink) Record(ctx context.Context, event AuditEvent) error {
	<-s.release
	return s.collectingSink.Record(ctx, event)
}

type failingSink struct{}

func (failingSink) Record(ctx context.Context, event AuditEvent) error {
	return errors.New("sink offline")
}
