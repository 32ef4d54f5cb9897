package common

import (
	"sync"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
)

// Module names recognised by the pause guard.
const (
	ModuleEscrow     = "escrow"
	ModuleStorefront = "storefront"
	ModuleAuction    = "auction"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return coreerrors.Wrap(coreerrors.ErrModulePaused, "%s", module)
	}
	return nil
}

// Pauses is a mutable PauseView that operators can toggle at runtime.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses seeds the pause table from the supplied module flags.
func NewPauses(initial map[string]bool) *Pauses {
	p := &Pauses{paused: make(map[string]bool, len(initial))}
	for module, paused := range initial {
		p.paused[module] = paused
	}
	return p
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// Set updates the pause flag for module.
func (p *Pauses) Set(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == nil {
		p.paused = make(map[string]bool)
	}
	p.paused[module] = paused
}
