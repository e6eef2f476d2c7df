package services

import "sync"

// WalletLocks serializes ledger writers for the same wallet inside this
// process. Row locks in the store cover writers in other processes.
type WalletLocks struct {
	mu    sync.Mutex
	locks map[string]*walletLock
}

type walletLock struct {
	mu   sync.Mutex
	refs int
}

func NewWalletLocks() *WalletLocks {
	return &WalletLocks{locks: make(map[string]*walletLock)}
}

// Lock blocks until the caller owns wallet and returns the release func.
func (w *WalletLocks) Lock(wallet string) func() {
	if w == nil {
		return func() {}
	}

	w.mu.Lock()
	l, ok := w.locks[wallet]
	if !ok {
		l = &walletLock{}
		w.locks[wallet] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, wallet)
		}
		w.mu.Unlock()
	}
}
