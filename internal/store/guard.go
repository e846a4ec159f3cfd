package store

import "context"

// Executor runs fn under some admission policy, such as a circuit breaker.
type Executor interface {
	Execute(fn func() error) error
}

// Guard wraps s so that every write goes through ex. Reads, Ping and Close
// pass straight through.
func Guard(s Store, ex Executor) Store {
	return &guarded{Store: s, ex: ex}
}

type guarded struct {
	Store
	ex Executor
}

func (g *guarded) SetAlias(ctx context.Context, owner, words, expression string) error {
	return g.ex.Execute(func() error { return g.Store.SetAlias(ctx, owner, words, expression) })
}

func (g *guarded) RemoveAlias(ctx context.Context, owner, words string) (bool, error) {
	var removed bool
	err := g.ex.Execute(func() error {
		var err error
		removed, err = g.Store.RemoveAlias(ctx, owner, words)
		return err
	})
	return removed, err
}

func (g *guarded) RenameOwner(ctx context.Context, oldOwner, newOwner string) error {
	return g.ex.Execute(func() error { return g.Store.RenameOwner(ctx, oldOwner, newOwner) })
}

func (g *guarded) PutUser(ctx context.Context, u User) error {
	return g.ex.Execute(func() error { return g.Store.PutUser(ctx, u) })
}

func (g *guarded) SaveSession(ctx context.Context, rec SessionRecord) error {
	return g.ex.Execute(func() error { return g.Store.SaveSession(ctx, rec) })
}

func (g *guarded) DeleteSession(ctx context.Context, channel string) error {
	return g.ex.Execute(func() error { return g.Store.DeleteSession(ctx, channel) })
}
