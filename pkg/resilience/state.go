package resilience

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// State - состояние Circuit Breaker
type State int

const (
	// StateClosed - обращения к источнику проходят
	StateClosed State = iota

	// StateHalfOpen - пробные обращения после паузы
	StateHalfOpen

	// StateOpen - обращения отклоняются до истечения Timeout
	StateOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", s)
}

// MarshalText - состояние в JSON и логах пишется именем
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats - снимок состояния breaker'а
type Stats struct {
	State             State         `json:"state"`
	Generation        uint64        `json:"generation"`
	Counts            Counts        `json:"counts"`
	RunningCalls      uint32        `json:"running_calls"`
	MaxRunningCalls   uint32        `json:"max_running_calls"`
	LastStateChange   time.Time     `json:"last_state_change"`
	StateChanges      map[State]int `json:"state_changes"`
	TimeUntilHalfOpen time.Duration `json:"time_until_half_open"`
}

// stateManager хранит состояние одного breaker'а. Любой результат вызова,
// начатого в другом поколении (до смены состояния), игнорируется.
type stateManager struct {
	mu          sync.RWMutex
	config      Config
	now         func() time.Time
	state       State
	generation  uint64
	counts      Counts
	openedUntil time.Time

	running    uint32
	maxRunning uint32
	changedAt  time.Time
	changes    map[State]int
}

func newStateManager(config Config) *stateManager {
	return &stateManager{
		config:    config,
		now:       time.Now,
		state:     StateClosed,
		changedAt: time.Now(),
		changes:   make(map[State]int),
	}
}

// transition меняет состояние под уже взятой блокировкой.
// Счетчики обнуляются при каждой смене.
func (sm *stateManager) transition(to State) {
	if sm.state == to {
		return
	}
	from := sm.state
	now := sm.now()

	sm.state = to
	sm.generation++
	sm.counts = Counts{}
	sm.changedAt = now
	sm.changes[to]++
	if to == StateOpen {
		sm.openedUntil = now.Add(sm.config.Timeout)
	}

	if cb := sm.config.OnStateChange; cb != nil {
		go cb(sm.config.Name, from, to)
	}
}

func (sm *stateManager) getState() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// beforeRequest допускает вызов или отклоняет его. Open по истечении
// паузы сам переходит в Half-Open.
func (sm *stateManager) beforeRequest() (uint64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state == StateOpen {
		if !sm.now().After(sm.openedUntil) {
			return sm.generation, ErrCircuitOpen
		}
		sm.transition(StateHalfOpen)
	}

	if limit := sm.config.MaxConcurrentCalls; limit > 0 && sm.running >= limit {
		return sm.generation, ErrTooManyCalls
	}

	sm.running++
	sm.maxRunning = max(sm.maxRunning, sm.running)
	return sm.generation, nil
}

func (sm *stateManager) afterRequest(generation uint64, success bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.running > 0 {
		sm.running--
	}
	if generation != sm.generation {
		return
	}

	sm.counts.Requests++
	if success {
		sm.counts.TotalSuccesses++
		sm.counts.ConsecutiveSuccesses++
		sm.counts.ConsecutiveFailures = 0
		if sm.state == StateHalfOpen && sm.counts.ConsecutiveSuccesses >= sm.config.SuccessThreshold {
			sm.transition(StateClosed)
		}
		return
	}

	sm.counts.TotalFailures++
	sm.counts.ConsecutiveFailures++
	sm.counts.ConsecutiveSuccesses = 0
	switch sm.state {
	case StateClosed:
		if sm.shouldTrip() {
			sm.transition(StateOpen)
		}
	case StateHalfOpen:
		// пробный вызов не прошел
		sm.transition(StateOpen)
	}
}

func (sm *stateManager) shouldTrip() bool {
	if sm.config.ShouldTrip != nil {
		return sm.config.ShouldTrip(sm.counts)
	}
	return sm.counts.ConsecutiveFailures >= sm.config.MaxFailures
}

func (sm *stateManager) getCounts() Counts {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.counts
}

func (sm *stateManager) getStats() Stats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var untilHalfOpen time.Duration
	if sm.state == StateOpen {
		untilHalfOpen = max(sm.openedUntil.Sub(sm.now()), 0)
	}
	return Stats{
		State:             sm.state,
		Generation:        sm.generation,
		Counts:            sm.counts,
		RunningCalls:      sm.running,
		MaxRunningCalls:   sm.maxRunning,
		LastStateChange:   sm.changedAt,
		StateChanges:      maps.Clone(sm.changes),
		TimeUntilHalfOpen: untilHalfOpen,
	}
}

// reset возвращает breaker в Closed без вызова OnStateChange
func (sm *stateManager) reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.state = StateClosed
	sm.generation++
	sm.counts = Counts{}
	sm.openedUntil = time.Time{}
	sm.running = 0
	sm.changedAt = sm.now()
}
