package store

import "github.com/roach88/reconcilor/internal/account"

// Owner receives credential changes as engine notifications.
// *engine.Engine satisfies it.
type Owner interface {
	OnAccountAdded(id account.ID) bool
	OnAccountRemoved(id account.ID) bool
	OnSignedIn() bool
	OnSignedOut() bool
}

// Attach forwards every credential change to o:
//
//	AccountAdded          -> OnAccountAdded
//	AccountRemoved        -> OnAccountRemoved
//	PrimaryChanged (set)  -> OnSignedIn
//	PrimaryChanged (clear)-> OnSignedOut
//
// The returned function detaches o.
func (s *Store) Attach(o Owner) (detach func()) {
	return s.Subscribe(func(c Change) {
		switch c.Kind {
		case AccountAdded:
			o.OnAccountAdded(c.Account)
		case AccountRemoved:
			o.OnAccountRemoved(c.Account)
		case PrimaryChanged:
			if c.Account == "" {
				o.OnSignedOut()
			} else {
				o.OnSignedIn()
			}
		}
	})
}
