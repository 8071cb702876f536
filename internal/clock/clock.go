// Package clock abstrai o tempo para que os contadores funcionem com relógio
// real ou virtual.
package clock

import (
	"sync"
	"time"
)

// Clock fornece o instante atual
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock delega para o pacote time
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// VirtualClock é um relógio controlável para testes determinísticos.
// Seguro para uso concorrente.
type VirtualClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewVirtualClock cria um VirtualClock no instante informado
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *VirtualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance avança o relógio. Durações negativas são ignoradas.
func (c *VirtualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// Set posiciona o relógio em um instante. Não permite voltar no tempo.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.current) {
		c.current = t
	}
}
