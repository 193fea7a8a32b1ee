package services

import (
	"context"
	"errors"
	"io"
	"sync"

	"csp-validator/interfaces"
)

// fakeProvider is a scriptable MarketDataProvider for tests.
type fakeProvider struct {
	mu sync.Mutex

	price    float64
	priceErr error

	refs    []interfaces.ContractRef
	refsErr error

	nbbo    map[string]interfaces.NBBOQuote
	nbboErr error

	optClose    map[string]float64
	optCloseErr error

	priceCalls    int
	contractCalls int
	nbboCalls     int
	optCloseCalls int
}

func (p *fakeProvider) PreviousClose(ctx context.Context, ticker string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCalls++
	return p.price, p.priceErr
}

func (p *fakeProvider) PutContracts(ctx context.Context, underlying string) ([]interfaces.ContractRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contractCalls++
	return p.refs, p.refsErr
}

func (p *fakeProvider) LastNBBO(ctx context.Context, optionTicker string) (interfaces.NBBOQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nbboCalls++
	if p.nbboErr != nil {
		return interfaces.NBBOQuote{}, p.nbboErr
	}
	return p.nbbo[optionTicker], nil
}

func (p *fakeProvider) OptionPreviousClose(ctx context.Context, optionTicker string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.optCloseCalls++
	if p.optCloseErr != nil {
		return 0, p.optCloseErr
	}
	prevClose, ok := p.optClose[optionTicker]
	if !ok {
		return 0, errors.New("no previous close aggregate")
	}
	return prevClose, nil
}

func (p *fakeProvider) calls() (price, contracts, nbbo, optClose int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priceCalls, p.contractCalls, p.nbboCalls, p.optCloseCalls
}

func (p *fakeProvider) set(fn func(*fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// quietBus returns an EventBus that does not write to stderr.
func quietBus() *EventBus {
	bus := NewEventBus()
	bus.logger.SetOutput(io.Discard)
	return bus
}
