// Package llmtest provides scripted llm.Client fakes.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Responder produces the raw reply for one call.
type Responder func(system, user string) (json.RawMessage, error)

// Fake routes calls by schema name. Unrouted schemas fail.
type Fake struct {
	mu     sync.Mutex
	routes map[string]Responder
	calls  map[string]int
}

func NewFake() *Fake {
	return &Fake{routes: map[string]Responder{}, calls: map[string]int{}}
}

func (f *Fake) On(schemaName string, r Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[schemaName] = r
	return f
}

// OnJSON always replies with body.
func (f *Fake) OnJSON(schemaName, body string) *Fake {
	return f.On(schemaName, func(string, string) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	})
}

// OnError always fails with err.
func (f *Fake) OnError(schemaName string, err error) *Fake {
	return f.On(schemaName, func(string, string) (json.RawMessage, error) {
		return nil, err
	})
}

func (f *Fake) Calls(schemaName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[schemaName]
}

func (f *Fake) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls[schemaName]++
	r := f.routes[schemaName]
	f.mu.Unlock()
	if r == nil {
		return nil, errors.New("llmtest: no route for " + schemaName)
	}
	return r(system, user)
}
