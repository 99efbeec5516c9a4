package group_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/sharnoff/tilecast/group"
)

func assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// runAll runs f once per group concurrently, returning the error of each call
func runAll(groups []*group.Group, f func(g *group.Group) error) []error {
	errs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func(i int, g *group.Group) {
			defer wg.Done()
			errs[i] = f(g)
		}(i, g)
	}
	wg.Wait()
	return errs
}

func TestLocalWorldBcast(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(4)
	for r, g := range world {
		assert(g.Valid())
		assert(g.Rank() == r)
		assert(g.Size() == 4)
		assert(!g.IsInter())
	}

	msg := []byte("hello, ranks")
	got := make([][]byte, len(world))
	errs := runAll(world, func(g *group.Group) error {
		buf := make([]byte, len(msg))
		if g.Rank() == 2 {
			copy(buf, msg)
		}
		err := g.Bcast(buf, 2)
		got[g.Rank()] = buf
		return err
	})

	for r := range world {
		if errs[r] != nil {
			t.Fatalf("rank %d: %v", r, errs[r])
		}
		if !bytes.Equal(got[r], msg) {
			t.Errorf("rank %d got %q, want %q", r, got[r], msg)
		}
	}
}

func TestBcastIssuedBackToBack(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(3)
	const rounds = 20

	errs := runAll(world, func(g *group.Group) error {
		bufs := make([][]byte, rounds)
		reqs := make([]*group.Request, rounds)
		for i := range bufs {
			bufs[i] = make([]byte, i+1)
			if g.Rank() == 0 {
				for j := range bufs[i] {
					bufs[i][j] = byte(i)
				}
			}
			reqs[i] = g.Ibcast(bufs[i], 0)
		}
		for i, req := range reqs {
			if err := req.Wait(); err != nil {
				return err
			}
			for _, b := range bufs[i] {
				if b != byte(i) {
					return fmt.Errorf("round %d: got byte %d", i, b)
				}
			}
		}
		return nil
	})

	for r, err := range errs {
		if err != nil {
			t.Errorf("rank %d: %v", r, err)
		}
	}
}

func TestDupIsolation(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(2)
	dups := make([]*group.Group, len(world))
	for r, g := range world {
		d, err := g.Dup()
		if err != nil {
			t.Fatal(err)
		}
		assert(d.Valid())
		assert(d.Rank() == r)
		dups[r] = d
	}

	// rank 0 broadcasts on the dup first. If contexts leaked into each other, rank 1's receive
	// on the parent would see the dup's message.
	errs := runAll(world, func(g *group.Group) error {
		r := g.Rank()
		parent := make([]byte, 6)
		child := make([]byte, 5)
		if r == 0 {
			copy(parent, "parent")
			copy(child, "child")
			req := dups[0].Ibcast(child, 0)
			if err := g.Bcast(parent, 0); err != nil {
				return err
			}
			return req.Wait()
		}

		if err := g.Bcast(parent, 0); err != nil {
			return err
		}
		if err := dups[1].Bcast(child, 0); err != nil {
			return err
		}
		if string(parent) != "parent" || string(child) != "child" {
			return fmt.Errorf("got parent=%q child=%q", parent, child)
		}
		return nil
	})

	for r, err := range errs {
		if err != nil {
			t.Errorf("rank %d: %v", r, err)
		}
	}
}

func TestLengthMismatch(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(2)
	errs := runAll(world, func(g *group.Group) error {
		if g.Rank() == 0 {
			return g.Bcast(make([]byte, 8), 0)
		}
		return g.Bcast(make([]byte, 4), 0)
	})

	assert(errs[0] == nil)
	if !errors.Is(errs[1], group.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", errs[1])
	}
}

func TestFreedGroup(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(2)
	g := world[0]
	assert(g.Free() == nil)
	assert(g.Free() == nil)
	assert(!g.Valid())
	assert(g.Rank() == -1)
	assert(g.Size() == 0)

	dup, err := g.Dup()
	assert(errors.Is(err, group.ErrClosed))
	assert(!dup.Valid())

	assert(errors.Is(g.Bcast([]byte{1}, 0), group.ErrClosed))

	// the surviving rank sees the context as closed instead of blocking forever
	err = world[1].Bcast(make([]byte, 1), 0)
	if !errors.Is(err, group.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	var nilGroup *group.Group
	assert(!nilGroup.Valid())
	assert(!group.New(nil).Valid())
}

func TestInterBcast(t *testing.T) {
	t.Parallel()

	producers, consumers := group.NewLocalInter(3, 2)
	for _, g := range producers {
		assert(g.IsInter())
		assert(g.Size() == 3)
		assert(g.RemoteSize() == 2)
	}
	for _, g := range consumers {
		assert(g.IsInter())
		assert(g.Size() == 2)
		assert(g.RemoteSize() == 3)
	}

	const sender = 1
	msg := []byte("across the bridge")

	all := append(append([]*group.Group{}, producers...), consumers...)
	got := make([][]byte, len(consumers))
	errs := runAll(all, func(g *group.Group) error {
		buf := make([]byte, len(msg))
		switch {
		case g.Size() == 3 && g.Rank() == sender:
			copy(buf, msg)
			return g.Bcast(buf, group.Root)
		case g.Size() == 3:
			return g.Bcast(buf, group.ProcNull)
		default:
			err := g.Bcast(buf, sender)
			got[g.Rank()] = buf
			return err
		}
	})

	for i, err := range errs {
		if err != nil {
			t.Errorf("member %d: %v", i, err)
		}
	}
	for r, b := range got {
		if !bytes.Equal(b, msg) {
			t.Errorf("consumer %d got %q", r, b)
		}
	}
}

func TestRootOutOfRangePanics(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(2)
	defer func() {
		assert(recover() != nil)
	}()
	world[0].Ibcast([]byte{0}, 5)
	t.Fatal("expected panic")
}

// cycleDups duplicates every group, broadcasts once on the duplicates, then frees them
func cycleDups(groups []*group.Group, rounds int) error {
	for i := 0; i < rounds; i += 1 {
		dups := make([]*group.Group, len(groups))
		for r, g := range groups {
			d, err := g.Dup()
			if err != nil {
				return err
			}
			dups[r] = d
		}
		errs := runAll(dups, func(d *group.Group) error {
			defer d.Free()
			buf := []byte{byte(i)}
			if err := d.Bcast(buf, 0); err != nil {
				return err
			}
			if buf[0] != byte(i) {
				return fmt.Errorf("round %d: got %d", i, buf[0])
			}
			return nil
		})
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func TestFreedContextsReleaseLinks(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(3)
	for _, err := range runAll(world, func(g *group.Group) error { return g.Bcast(make([]byte, 1), 0) }) {
		assert(err == nil)
	}
	baseline := group.OpenLinks(world[0])
	assert(baseline > 0)

	if err := cycleDups(world, 20); err != nil {
		t.Fatal(err)
	}
	if n := group.OpenLinks(world[0]); n != baseline {
		t.Fatalf("%d links open after freeing every duplicate, want %d", n, baseline)
	}

	// a rank left behind on a freed context fails without growing the hub again
	a, err := world[0].Dup()
	assert(err == nil)
	b, err := world[1].Dup()
	assert(err == nil)
	assert(a.Free() == nil)
	for i := 0; i < 3; i += 1 {
		if err := b.Bcast(make([]byte, 1), 0); !errors.Is(err, group.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	}
	assert(b.Free() == nil)
	assert(group.OpenLinks(world[0]) == baseline)
}
