package resilience

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	// ErrCircuitOpen - источник временно отключен после серии сбоев
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyCalls - превышен MaxConcurrentCalls
	ErrTooManyCalls = errors.New("too many concurrent calls")
)

// ExecuteFunc - защищаемый вызов
type ExecuteFunc func(ctx context.Context) error

// CircuitBreaker перестает обращаться к источнику после MaxFailures
// сбоев подряд и пробует снова через Timeout.
type CircuitBreaker struct {
	config Config
	sm     *stateManager
}

// New создает breaker в состоянии Closed
func New(config Config) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &CircuitBreaker{config: config, sm: newStateManager(config)}, nil
}

// Execute вызывает fn, если breaker пропускает вызов. Отказ возвращается
// как ErrCircuitOpen или ErrTooManyCalls с именем breaker'а.
// Паника в fn засчитывается как сбой и пробрасывается дальше.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn ExecuteFunc) (err error) {
	if !cb.config.Enabled {
		return fn(ctx)
	}

	generation, err := cb.sm.beforeRequest()
	if err != nil {
		return fmt.Errorf("%s: %w", cb.config.Name, err)
	}

	completed := false
	defer func() {
		if !completed {
			cb.sm.afterRequest(generation, false)
		}
	}()

	err = fn(ctx)
	completed = true
	cb.sm.afterRequest(generation, !cb.countsAsFailure(err))
	return err
}

// countsAsFailure: отмена вызывающим не говорит о состоянии источника
func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case cb.config.IsFailure != nil:
		return cb.config.IsFailure(err)
	default:
		return true
	}
}

func (cb *CircuitBreaker) Name() string   { return cb.config.Name }
func (cb *CircuitBreaker) State() State   { return cb.sm.getState() }
func (cb *CircuitBreaker) Counts() Counts { return cb.sm.getCounts() }
func (cb *CircuitBreaker) Stats() Stats   { return cb.sm.getStats() }

// Reset принудительно закрывает breaker
func (cb *CircuitBreaker) Reset() { cb.sm.reset() }

// Group создает breaker'ы по имени из общего шаблона.
// Guard заводит по одному на пару источник/интерфейс.
type Group struct {
	mu       sync.Mutex
	template Config
	breakers map[string]*CircuitBreaker
}

func NewGroup(template Config) *Group {
	return &Group{template: template, breakers: make(map[string]*CircuitBreaker)}
}

// Get возвращает breaker с именем name, создавая его при первом обращении
func (g *Group) Get(name string) (*CircuitBreaker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb := g.breakers[name]; cb != nil {
		return cb, nil
	}
	cfg := g.template
	cfg.Name = name
	cb, err := New(cfg)
	if err != nil {
		return nil, err
	}
	g.breakers[name] = cb
	return cb, nil
}

func (g *Group) Execute(ctx context.Context, name string, fn ExecuteFunc) error {
	cb, err := g.Get(name)
	if err != nil {
		return err
	}
	return cb.Execute(ctx, fn)
}

// Names - имена созданных breaker'ов по алфавиту
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Sorted(maps.Keys(g.breakers))
}

// StatsAll - снимок статистики всех breaker'ов группы
func (g *Group) StatsAll() map[string]Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]Stats, len(g.breakers))
	for name, cb := range g.breakers {
		out[name] = cb.Stats()
	}
	return out
}
