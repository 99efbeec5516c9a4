package fabric_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/sharnoff/tilecast/fabric"
	"github.com/sharnoff/tilecast/group"
)

func assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// newFabrics creates one fabric per member of groups, concurrently since New is collective
func newFabrics(t *testing.T, groups []*group.Group, sendRank, recvRank int) []*fabric.Fabric {
	t.Helper()

	fabrics := make([]*fabric.Fabric, len(groups))
	errs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func(i int, g *group.Group) {
			defer wg.Done()
			fabrics[i], errs[i] = fabric.New(g, sendRank, recvRank)
		}(i, g)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("member %d: %v", i, err)
		}
	}
	return fabrics
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(3)
	fabrics := newFabrics(t, world, 0, 0)

	sizes := []int{0, 1, 3, 4, 255, 4096, 1 << 20}

	var wg sync.WaitGroup
	errs := make([]error, len(fabrics))
	for r := 1; r < len(fabrics); r += 1 {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i, n := range sizes {
				got, err := fabrics[r].Read()
				if err != nil {
					errs[r] = err
					return
				}
				if want := pattern(n, byte(i)); !bytes.Equal(got, want) {
					errs[r] = fmt.Errorf("message %d: got %d bytes, want %d", i, len(got), len(want))
					return
				}
			}
		}(r)
	}

	for i, n := range sizes {
		if err := fabrics[0].Send(pattern(n, byte(i))); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	for r, err := range errs {
		if err != nil {
			t.Errorf("rank %d: %v", r, err)
		}
	}

	var total uint64
	for _, n := range sizes {
		total += uint64(n)
	}
	sent := fabrics[0].Stats()
	assert(sent.SentMessages == uint64(len(sizes)))
	assert(sent.SentBytes == total)
	recv := fabrics[1].Stats()
	assert(recv.ReadMessages == uint64(len(sizes)))
	assert(recv.ReadBytes == total)
}

func TestSizeLimit(t *testing.T) {
	t.Parallel()

	assert(fabric.CheckSize(0) == nil)
	assert(fabric.CheckSize(fabric.MaxPayload-1) == nil)
	assert(errors.Is(fabric.CheckSize(fabric.MaxPayload), fabric.ErrPayloadTooLarge))
	assert(errors.Is(fabric.CheckSize(fabric.MaxPayload+1), fabric.ErrPayloadTooLarge))
}

func TestSendRejectsLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates 1 GiB")
	}

	world := group.NewLocalWorld(2)
	fabrics := newFabrics(t, world, 0, 0)

	err := fabrics[0].Send(make([]byte, fabric.MaxPayload))
	if !errors.Is(err, fabric.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}

	// the rejected message never reached the group, so the fabric is still usable
	done := make(chan error, 1)
	go func() {
		got, err := fabrics[1].Read()
		if err == nil && string(got) != "ok" {
			err = fmt.Errorf("got %q", got)
		}
		done <- err
	}()
	assert(fabrics[0].Send([]byte("ok")) == nil)
	assert(<-done == nil)
}

func TestLargestPayload(t *testing.T) {
	if testing.Short() {
		t.Skip("sends 1 GiB")
	}

	world := group.NewLocalWorld(2)
	fabrics := newFabrics(t, world, 0, 0)

	data := make([]byte, fabric.MaxPayload-1)
	data[0], data[len(data)-1] = 1, 2

	done := make(chan error, 1)
	go func() {
		got, err := fabrics[1].Read()
		if err == nil && (len(got) != len(data) || got[0] != 1 || got[len(got)-1] != 2) {
			err = fmt.Errorf("bad payload of %d bytes", len(got))
		}
		done <- err
	}()

	if err := fabrics[0].Send(data); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentFabrics(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(3)
	// New is collective, so both fabrics are created in the same order on every rank
	var a, b []*fabric.Fabric
	a = newFabrics(t, world, 0, 0)
	b = newFabrics(t, world, 2, 2)

	const count = 50
	var wg sync.WaitGroup
	errs := make(chan error, 8)

	send := func(f *fabric.Fabric, tag string) {
		defer wg.Done()
		for i := 0; i < count; i += 1 {
			if err := f.Send([]byte(fmt.Sprintf("%s-%d", tag, i))); err != nil {
				errs <- err
				return
			}
		}
	}
	read := func(f *fabric.Fabric, tag string) {
		defer wg.Done()
		for i := 0; i < count; i += 1 {
			got, err := f.Read()
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("%s-%d", tag, i); string(got) != want {
				errs <- fmt.Errorf("got %q, want %q", got, want)
				return
			}
		}
	}

	wg.Add(6)
	go send(a[0], "a")
	go read(a[1], "a")
	go read(a[2], "a")
	go send(b[2], "b")
	go read(b[0], "b")
	go read(b[1], "b")
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestInterGroup(t *testing.T) {
	t.Parallel()

	producers, consumers := group.NewLocalInter(1, 3)
	all := append(append([]*group.Group{}, producers...), consumers...)
	fabrics := newFabrics(t, all, group.Root, 0)

	msg := []byte("frame 0")
	var wg sync.WaitGroup
	errs := make([]error, len(consumers))
	for i := range consumers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := fabrics[1+i].Read()
			if err == nil && !bytes.Equal(got, msg) {
				err = fmt.Errorf("got %q", got)
			}
			errs[i] = err
		}(i)
	}

	if err := fabrics[0].Send(msg); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("consumer %d: %v", i, err)
		}
	}
}

func TestInterGroupRolesPanic(t *testing.T) {
	t.Parallel()

	producers, _ := group.NewLocalInter(1, 1)
	defer func() {
		assert(recover() != nil)
	}()
	fabric.New(producers[0], 0, 0)
	t.Fatal("expected panic")
}

func TestInvalidGroup(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(1)
	assert(world[0].Free() == nil)

	f, err := fabric.New(world[0], 0, 0)
	assert(f == nil)
	if !errors.Is(err, fabric.ErrInvalidGroup) {
		t.Fatalf("expected ErrInvalidGroup, got %v", err)
	}
}

func TestBrokenStaysBroken(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(2)
	fabrics := newFabrics(t, world, 0, 0)
	assert(fabrics[1].Close() == nil)

	err := fabrics[0].Send([]byte("lost"))
	assert(err != nil)
	assert(!errors.Is(err, fabric.ErrBroken))

	err = fabrics[0].Send([]byte("also lost"))
	if !errors.Is(err, fabric.ErrBroken) {
		t.Fatalf("expected ErrBroken, got %v", err)
	}

	_, err = fabrics[0].Read()
	assert(errors.Is(err, fabric.ErrBroken))
}

func TestReadAfterClose(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(2)
	fabrics := newFabrics(t, world, 0, 0)
	assert(fabrics[1].Close() == nil)

	_, err := fabrics[1].Read()
	assert(errors.Is(err, group.ErrClosed))
}

func TestWrongRolePanics(t *testing.T) {
	t.Parallel()

	world := group.NewLocalWorld(2)
	fabrics := newFabrics(t, world, 0, 0)

	panics := func(f func()) (panicked bool) {
		defer func() {
			panicked = recover() != nil
		}()
		f()
		return false
	}

	assert(panics(func() { fabrics[1].Send([]byte("x")) }))
	assert(panics(func() { fabrics[0].Read() }))
}
