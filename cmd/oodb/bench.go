package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/oodb/internal/storage/engine"
	"github.com/KilimcininKorOglu/oodb/internal/storage/tx"
)

// BenchCmd loads accounts, performs a deposit and then runs concurrent
// cooperative deposits from several handles.
type BenchCmd struct {
	Users    int     `default:"1000" help:"Number of accounts to create"`
	Amount   float64 `default:"10" help:"Amount of the single deposit"`
	Target   int     `default:"500" help:"Account number receiving the single deposit"`
	Workers  int     `default:"4" help:"Concurrent handles"`
	Deposits int     `default:"100" help:"Deposits per worker"`
	Attempts int     `default:"1000" help:"Attempts per deposit before giving up"`
}

func (c *BenchCmd) Run(ctx *kong.Context, g *Globals) (err error) {
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	if c.Users <= 0 || c.Target < 0 || c.Target >= c.Users {
		return fmt.Errorf("target %d is not one of %d accounts", c.Target, c.Users)
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	start := time.Now()
	created, err := c.load(s)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Stdout, "Loaded %s accounts (%s new) in %v\n",
		humanize.Comma(int64(c.Users)), humanize.Comma(int64(created)), time.Since(start).Round(time.Millisecond))

	target := fmt.Sprintf("user%d", c.Target)
	versions, balance, err := c.deposit(s, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Stdout, "Deposited %.2f to %s: balance %.2f, %d versions\n", c.Amount, target, balance, versions)

	if c.Workers <= 0 || c.Deposits <= 0 {
		return nil
	}
	start = time.Now()
	token := s.FeedToken()
	conflicts, err := c.concurrent(cfg.Store.Path, g)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	total := c.Workers * c.Deposits
	fmt.Fprintf(ctx.Stdout, "Committed %s deposits from %d handles in %v (%s/s, %s conflicts retried)\n",
		humanize.Comma(int64(total)), c.Workers, elapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(total)/elapsed.Seconds())), humanize.Comma(conflicts))
	fmt.Fprintf(ctx.Stdout, "Change feed: %s events\n", humanize.Comma(int64(s.FeedToken()-token)))
	return nil
}

// load creates the username index and every missing account.
func (c *BenchCmd) load(s *engine.Store) (int, error) {
	ix, err := s.Index(accountsIndex)
	if errors.Is(err, engine.ErrIndexNotFound) {
		ix, err = s.CreateIndex(accountsIndex, engine.KeyString, true)
	}
	if err != nil {
		return 0, err
	}

	created := 0
	for i := 0; i < c.Users; i++ {
		name := fmt.Sprintf("user%d", i)
		existing, err := ix.Get(name)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			continue
		}
		if err := ix.Put(name, &Account{Username: name}); err != nil {
			return 0, err
		}
		created++
	}
	return created, s.Commit()
}

func (c *BenchCmd) deposit(s *engine.Store, name string) (int, float64, error) {
	ix, err := s.Index(accountsIndex)
	if err != nil {
		return 0, 0, err
	}
	acct, err := engine.Find[Account](ix, name)
	if err != nil {
		return 0, 0, err
	}
	if acct == nil {
		return 0, 0, fmt.Errorf("account %s not found", name)
	}

	acct.Balance += c.Amount
	if err := s.Modify(acct); err != nil {
		return 0, 0, err
	}
	if err := s.Commit(); err != nil {
		return 0, 0, err
	}

	h, err := s.GetVersionHistory(acct)
	if err != nil {
		return 0, 0, err
	}
	return h.NumberOfVersions(), acct.Balance, nil
}

// concurrent runs the deposit workers, one handle each, and returns how
// many attempts ended in a conflict.
func (c *BenchCmd) concurrent(path string, g *Globals) (int64, error) {
	var conflicts atomic.Int64

	eg, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < c.Workers; w++ {
		eg.Go(func() (err error) {
			cfg, err := g.resolve()
			if err != nil {
				return err
			}
			cfg.Store.Path = path
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeInto(s, &err)

			rng := rand.New(rand.NewPCG(uint64(w), uint64(time.Now().UnixNano())))
			for i := 0; i < c.Deposits; i++ {
				name := fmt.Sprintf("user%d", rng.IntN(c.Users))
				attempt := 0
				_, err := tx.Retry(ctx, s, tx.Cooperative, c.Attempts, func(*tx.Transaction) error {
					if attempt > 0 {
						conflicts.Add(1)
					}
					attempt++

					ix, err := s.Index(accountsIndex)
					if err != nil {
						return err
					}
					acct, err := engine.Find[Account](ix, name)
					if err != nil {
						return err
					}
					if acct == nil {
						return fmt.Errorf("account %s not found", name)
					}
					acct.Balance++
					return s.Modify(acct)
				})
				if err != nil {
					return fmt.Errorf("worker %d: %w", w, err)
				}
			}
			return nil
		})
	}
	err := eg.Wait()
	return conflicts.Load(), err
}
