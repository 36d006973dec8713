package services

import (
	"context"
	"net/http"
	"sync"

	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/integration"
)

type fakeDelegator struct {
	token string
	err   error

	calls         int
	lastAssertion string
	lastScope     string
}

func (f *fakeDelegator) ExchangeOnBehalfOf(_ context.Context, assertion, scope string) (string, error) {
	f.calls++
	f.lastAssertion = assertion
	f.lastScope = scope
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeBus struct {
	err       error
	published []integration.ScanInitiated
}

func (f *fakeBus) PublishScanInitiated(_ context.Context, ev integration.ScanInitiated) (integration.PublishReceipt, error) {
	if f.err != nil {
		return integration.PublishReceipt{}, f.err
	}
	f.published = append(f.published, ev)
	return integration.PublishReceipt{EventID: "event-1", StatusCode: http.StatusOK}, nil
}

type fakeDrive struct {
	failIDs map[string]error

	deleted  []string
	lastCred string
}

func (f *fakeDrive) DeleteItem(_ context.Context, credential, itemID string) error {
	f.lastCred = credential
	if err, ok := f.failIDs[itemID]; ok {
		return err
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

// capturingPublisher records lifecycle events instead of persisting them.
type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturingPublisher) Publish(event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Subscribe(domain.EventType, func(domain.Event)) {}

func (p *capturingPublisher) byType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
