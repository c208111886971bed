package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Comcast/opal/attr"
	"github.com/Comcast/opal/trace"
	. "github.com/Comcast/opal/util/testutil"
)

const patience = 5 * time.Second

// recorder is an Observer that remembers what it heard.
type recorder struct {
	sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{
		ch: make(chan Event, 1024),
	}
}

func (r *recorder) Listener() Listener {
	return func(c *Context, e Event) {
		r.Lock()
		r.events = append(r.events, e)
		r.Unlock()
		select {
		case r.ch <- e:
		default:
		}
	}
}

func (r *recorder) Events() []Event {
	r.Lock()
	defer r.Unlock()
	acc := make([]Event, len(r.events))
	copy(acc, r.events)
	return acc
}

// seen counts the times e has been heard.
func (r *recorder) seen(e Event) int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for _, x := range r.events {
		if x == e {
			n++
		}
	}
	return n
}

// await consumes events until it sees want.
func (r *recorder) await(t *testing.T, want Event) {
	t.Helper()
	timer := time.NewTimer(patience)
	defer timer.Stop()
	for {
		select {
		case e := <-r.ch:
			if e == want {
				return
			}
		case <-timer.C:
			t.Fatalf("never heard %s; heard %v", want, r.Events())
		}
	}
}

func newContext(t *testing.T, r *recorder) *Context {
	t.Helper()
	conf := &Conf{
		Name:   t.Name(),
		Tracer: trace.NewGate(),
	}
	if r != nil {
		conf.Observer = r.Listener()
	}
	c, err := New(conf)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func waitFor(t *testing.T, what string, pred func() bool) {
	t.Helper()
	if !Within(patience, pred) {
		t.Fatalf("timed out waiting for %s", what)
	}
}

func within(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(patience):
		t.Fatal("timeout")
	}
}

// blocker makes an entry that blocks (without checkpointing) until
// released.
func blocker(name string) (e *Entry, started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	e = NewEntry(name, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	return
}

// spinner makes an entry that checkpoints until it's abandoned.
func spinner(name string) (e *Entry, started chan struct{}, result chan error) {
	started = make(chan struct{})
	result = make(chan error, 1)
	e = NewEntry(name, func(ctx context.Context) error {
		close(started)
		for {
			if err := Checkpoint(ctx); err != nil {
				result <- err
				return err
			}
			time.Sleep(time.Millisecond)
		}
	})
	return
}

func TestLifecycle(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)

	r.await(t, EventWaiting)
	if got := r.Events(); got[0] != EventCreated || got[1] != EventWaiting {
		t.Fatalf("got %v", got)
	}

	ran := make(chan *Context, 1)
	f := NewEntry("f", func(ctx context.Context) error {
		ran <- From(ctx)
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := c.Push(f, true); err != nil {
			t.Fatal(err)
		}
		r.await(t, EventStarted)
		select {
		case x := <-ran:
			if x != c {
				t.Fatal("job didn't see its context")
			}
		case <-time.After(patience):
			t.Fatal("f didn't run")
		}
		r.await(t, EventWaiting)
	}

	if err := c.SetTerminate(true); err != nil {
		t.Fatal(err)
	}
	if !c.WillTerminate() {
		t.Fatal("should terminate")
	}
	r.await(t, EventTerminated)

	ctx, cancel := context.WithTimeout(context.Background(), patience)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	events := r.Events()
	if events[len(events)-1] != EventTerminated {
		t.Fatalf("last event %s", events[len(events)-1])
	}
	for i := 0; i < 10; i++ {
		if !c.IsTerminated() {
			t.Fatal("unterminated")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if c.Stack() != nil {
		t.Fatal("stack not released")
	}
}

func TestInitialEntry(t *testing.T) {
	r := newRecorder()
	done := make(chan struct{})
	c, err := New(&Conf{
		Name:     "initial",
		Tracer:   trace.NewGate(),
		Observer: r.Listener(),
		Entry: NewEntry("hello", func(ctx context.Context) error {
			close(done)
			return nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	within(t, done)

	// Created and Waiting precede Started.
	r.await(t, EventWaiting)
	events := r.Events()
	if events[0] != EventCreated || events[1] != EventWaiting || events[2] != EventStarted {
		t.Fatalf("got %v", events)
	}
}

func TestSuspendResumeWaiting(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	waitFor(t, "waiting", c.IsWaiting)

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}
	if !c.IsSuspended() {
		t.Fatal(c.State())
	}
	// Again is fine.
	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	if !c.IsWaiting() {
		t.Fatal(c.State())
	}
	// Resuming a running Context does nothing.
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	if !c.IsWaiting() {
		t.Fatal(c.State())
	}
}

func TestSuspendHaltsUnit(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	defer c.Close()

	e, started, release := blocker("blocker")
	if err := c.Place(e, false); err != nil {
		t.Fatal(err)
	}
	within(t, started)

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}

	// The job finishes but the unit can't get back to WAITING.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if !c.IsSuspended() {
		t.Fatalf("state %s", c.State())
	}

	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second waiting", func() bool { return r.seen(EventWaiting) == 2 })
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	e, started, release := blocker("blocker")
	if err := c.Place(e, false); err != nil {
		t.Fatal(err)
	}
	within(t, started)
	waitFor(t, "started", c.IsStarted)

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	if !c.IsStarted() {
		t.Fatalf("state %s", c.State())
	}
	if c.Current() != e {
		t.Fatalf("current %s", c.Current())
	}
	close(release)
	waitFor(t, "waiting", c.IsWaiting)
}

func TestSwapAutoResume(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	defer c.Close()

	r.await(t, EventWaiting)

	ran := make(chan *Entry, 1)
	var a *Entry
	a = NewEntry("a", func(ctx context.Context) error {
		ran <- From(ctx).Current()
		return nil
	})

	prev, err := c.Swap(a, true)
	if err != nil {
		t.Fatal(err)
	}
	if prev != nil {
		t.Fatalf("previous %s", prev)
	}

	r.await(t, EventStarted)
	select {
	case e := <-ran:
		if e != a {
			t.Fatalf("ran %s", e)
		}
	case <-time.After(patience):
		t.Fatal("a didn't run")
	}
}

func TestSwapReturnsPrevious(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	a := NewEntry("a", nil)
	b := NewEntry("b", func(ctx context.Context) error {
		close(done)
		return nil
	})

	if err := c.Place(b, false); err != nil {
		t.Fatal(err)
	}
	prev, err := c.Swap(a, false)
	if err != nil {
		t.Fatal(err)
	}
	if prev != b {
		t.Fatalf("previous %s", prev)
	}
	if !c.IsSuspended() {
		t.Fatal(c.State())
	}

	if prev, err = c.Swap(b, true); err != nil {
		t.Fatal(err)
	}
	if prev != a {
		t.Fatalf("previous %s", prev)
	}
	within(t, done)
}

func TestSelfOperations(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	type result struct {
		name string
		err  error
		want error
	}
	results := make(chan []result, 1)
	states := make(chan State, 1)

	e := NewEntry("self", func(ctx context.Context) error {
		me := From(ctx)
		var acc []result
		add := func(name string, err, want error) {
			acc = append(acc, result{name, err, want})
		}
		add("suspend", me.Suspend(), ContextSuspendSelf)
		add("resume", me.Resume(), ContextSuspendSelf)
		_, err := me.Swap(NewEntry("x", nil), true)
		add("swap", err, ContextSwapSelf)
		_, err = me.SwapLink(Link{Return: Exit}, true)
		add("swaplink", err, ContextSwapSelf)
		add("push", me.Push(NewEntry("x", nil), true), ContextSwapSelf)
		_, err = me.Pop(true)
		add("pop", err, ContextSwapSelf)
		add("close", me.Close(), ContextCloseSelf)
		add("checkpoint", Checkpoint(ctx), nil)
		results <- acc
		states <- me.State()
		return nil
	})

	if err := c.Push(e, true); err != nil {
		t.Fatal(err)
	}

	select {
	case acc := <-results:
		for _, r := range acc {
			if r.err != r.want {
				t.Fatalf("%s: got %v, wanted %v", r.name, r.err, r.want)
			}
		}
	case <-time.After(patience):
		t.Fatal("timeout")
	}
	if s := <-states; s != Started {
		t.Fatalf("state %s", s)
	}
	if c.WillTerminate() {
		t.Fatal("self swaplink leaked")
	}
}

func TestForeignUnitOperations(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	if err := c.Suicide(); err != ContextForeign {
		t.Fatal(err)
	}
	if err := Checkpoint(context.Background()); err != ContextHandleNull {
		t.Fatal(err)
	}
}

func TestNilContext(t *testing.T) {
	var c *Context
	if err := c.Suspend(); err != ContextHandleNull {
		t.Fatal(err)
	}
	if err := c.Resume(); err != ContextHandleNull {
		t.Fatal(err)
	}
	if _, err := c.Swap(nil, false); err != ContextHandleNull {
		t.Fatal(err)
	}
	if err := c.Push(NewEntry("x", nil), false); err != ContextHandleNull {
		t.Fatal(err)
	}
	if _, err := c.Pop(false); err != ContextHandleNull {
		t.Fatal(err)
	}
	if err := c.Place(NewEntry("x", nil), false); err != ContextHandleNull {
		t.Fatal(err)
	}
	if err := c.Close(); err != ContextHandleNull {
		t.Fatal(err)
	}
	if c.IsWaiting() || c.IsTerminated() || c.WillTerminate() {
		t.Fatal("nil context has opinions")
	}
}

func TestFinished(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal("second close", err)
	}

	if err := c.Suspend(); err != ContextFinished {
		t.Fatal(err)
	}
	if _, err := c.Swap(NewEntry("x", nil), true); err != ContextFinished {
		t.Fatal(err)
	}
	if err := c.Push(NewEntry("x", nil), true); err != ContextFinished {
		t.Fatal(err)
	}
	if err := c.Place(NewEntry("x", nil), true); err != ContextFinished {
		t.Fatal(err)
	}
	if err := c.SetTerminate(false); err != ContextFinished {
		t.Fatal(err)
	}
	if c.State() != Terminated {
		t.Fatal(c.State())
	}

	events := r.Events()
	if events[len(events)-1] != EventTerminated {
		t.Fatalf("got %v", events)
	}
}

func TestClosePending(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	r.await(t, EventWaiting)

	b, started, release := blocker("b")
	if err := c.Push(b, true); err != nil {
		t.Fatal(err)
	}
	within(t, started)

	var ran int32
	count := NewEntry("count", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	for i := 0; i < 3; i++ {
		if err := c.Place(count, false); err != nil {
			t.Fatal(err)
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		if err := c.Close(); err != nil {
			t.Error(err)
		}
	}()

	waitFor(t, "terminate request", c.WillTerminate)
	close(release)
	within(t, closed)

	if n := atomic.LoadInt32(&ran); n != 3 {
		t.Fatalf("ran %d of 3 pending entries", n)
	}
	if c.State() != Terminated {
		t.Fatal(c.State())
	}
	if n := r.seen(EventTerminated); n != 1 {
		t.Fatalf("terminated %d times", n)
	}
}

func TestTerminateWithPending(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	defer c.Close()
	r.await(t, EventWaiting)

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}

	var ran int32
	count := NewEntry("count", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	for i := 0; i < 2; i++ {
		if err := c.Place(count, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.SetTerminate(true); err != nil {
		t.Fatal(err)
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}

	within(t, c.Done())
	if n := atomic.LoadInt32(&ran); n != 2 {
		t.Fatalf("ran %d of 2 pending entries", n)
	}
}

func TestPlaceOrder(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	var (
		mu    sync.Mutex
		order []string
		done  = make(chan struct{})
	)
	job := func(name string) *Entry {
		return NewEntry(name, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			if len(order) == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}
	if err := c.Place(job("a"), false); err != nil {
		t.Fatal(err)
	}
	if err := c.Place(job("b"), false); err != nil {
		t.Fatal(err)
	}
	if err := c.Push(job("c"), false); err != nil {
		t.Fatal(err)
	}
	if n := len(c.Pending()); n != 3 {
		t.Fatalf("%d pending", n)
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	within(t, done)

	mu.Lock()
	defer mu.Unlock()
	if JS(order) != `["c","a","b"]` {
		t.Fatal(JS(order))
	}
}

func TestPopPending(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}
	a, b := NewEntry("a", nil), NewEntry("b", nil)
	c.Place(a, false)
	c.Place(b, false)

	e, err := c.Pop(false)
	if err != nil {
		t.Fatal(err)
	}
	if e != a {
		t.Fatalf("popped %s", e)
	}
	if p := c.Pending(); len(p) != 1 || p[0] != b {
		t.Fatalf("pending %v", p)
	}

	// Popping nothing is fine.
	c.Pop(false)
	if e, err = c.Pop(true); err != nil || e != nil {
		t.Fatal(e, err)
	}
	waitFor(t, "waiting", c.IsWaiting)
}

func TestPushMidJob(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	defer c.Close()

	a, started, result := spinner("a")
	if err := c.Place(a, false); err != nil {
		t.Fatal(err)
	}
	within(t, started)

	ranB := make(chan *Entry, 1)
	b := NewEntry("b", func(ctx context.Context) error {
		ranB <- From(ctx).Current()
		return nil
	})
	if err := c.Push(b, true); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-result:
		if err != Abandoned {
			t.Fatal(err)
		}
	case <-time.After(patience):
		t.Fatal("a wasn't abandoned")
	}

	select {
	case e := <-ranB:
		if e != b {
			t.Fatalf("current %s", e)
		}
	case <-time.After(patience):
		t.Fatal("b didn't run")
	}

	waitFor(t, "second waiting", func() bool { return r.seen(EventWaiting) == 2 })

	// a's Started was followed by b's Started with no Waiting
	// between.
	var seq []Event
	for _, e := range r.Events() {
		if e == EventStarted || e == EventWaiting {
			seq = append(seq, e)
		}
	}
	want := []Event{EventWaiting, EventStarted, EventStarted, EventWaiting}
	if JS(seq) != JS(want) {
		t.Fatalf("got %v", seq)
	}
}

func TestPopMidJob(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	a, started, result := spinner("a")
	if err := c.Place(a, false); err != nil {
		t.Fatal(err)
	}
	within(t, started)

	e, err := c.Pop(true)
	if err != nil {
		t.Fatal(err)
	}
	if e != a {
		t.Fatalf("popped %s", e)
	}
	select {
	case err := <-result:
		if err != Abandoned {
			t.Fatal(err)
		}
	case <-time.After(patience):
		t.Fatal("a wasn't abandoned")
	}
	waitFor(t, "waiting", c.IsWaiting)
}

func TestRegisters(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	e, started, release := blocker("blocker")
	c.Place(e, false)
	within(t, started)

	regs, err := c.Registers()
	if err != nil {
		t.Fatal(err)
	}
	if trace.Deref[Entry](regs.Get(trace.PC)) != e {
		t.Fatalf("pc %s", regs)
	}
	if l := trace.Deref[Label](regs.Get(trace.RA)); l == nil || *l != Wait {
		t.Fatalf("ra %s", regs)
	}
	if regs.Get(trace.SP).IsNil() {
		t.Fatalf("sp %s", regs)
	}
	close(release)
}

func TestSwapLinkExit(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	defer c.Close()

	r.await(t, EventWaiting)

	done := make(chan struct{})
	a := NewEntry("a", func(ctx context.Context) error {
		close(done)
		return nil
	})
	prev, err := c.SwapLink(Link{Entry: a, Return: Exit}, true)
	if err != nil {
		t.Fatal(err)
	}
	if prev.Entry != nil || prev.Return != Wait {
		t.Fatalf("previous %s", prev)
	}
	if !c.WillTerminate() {
		t.Fatal("should terminate")
	}
	within(t, done)
	r.await(t, EventTerminated)
}

func TestSwapLinkRewritesReturn(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	defer c.Close()

	e, started, release := blocker("blocker")
	c.Place(e, false)
	within(t, started)

	prev, err := c.SwapLink(Link{Return: Exit}, true)
	if err != nil {
		t.Fatal(err)
	}
	if prev.Return != Wait {
		t.Fatalf("previous %s", prev)
	}

	regs, err := c.Registers()
	if err != nil {
		t.Fatal(err)
	}
	if l := trace.Deref[Label](regs.Get(trace.RA)); l == nil || *l != Exit {
		t.Fatalf("ra %s", regs)
	}

	close(release)
	r.await(t, EventTerminated)
}

func TestSuicide(t *testing.T) {
	r := newRecorder()
	c := newContext(t, r)
	defer c.Close()

	e := NewEntry("goodbye", func(ctx context.Context) error {
		if err := From(ctx).Suicide(); err != nil {
			return err
		}
		if Checkpoint(ctx) != Abandoned {
			return errors.New("still alive")
		}
		return nil
	})
	if err := c.Push(e, true); err != nil {
		t.Fatal(err)
	}
	r.await(t, EventSuicide)
	r.await(t, EventTerminated)
	waitFor(t, "terminated", c.IsTerminated)
	if c.State() != Suicide {
		t.Fatal(c.State())
	}
	if c.LastError() != nil {
		t.Fatal(c.LastError())
	}
}

func TestJobPanic(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	c.Place(NewEntry("oops", func(ctx context.Context) error {
		panic("tacos")
	}), false)

	waitFor(t, "error", func() bool { return c.LastError() != nil })
	waitFor(t, "waiting", c.IsWaiting)
}

// stallTracer blocks GetRegs until released.
type stallTracer struct {
	*trace.Gate
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallTracer) GetRegs(id trace.ID) (*trace.RegisterView, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Gate.GetRegs(id)
}

func TestSwapping(t *testing.T) {
	st := &stallTracer{
		Gate:    trace.NewGate(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c, err := New(&Conf{
		Name:   "swapping",
		Tracer: st,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	e, started, release := blocker("blocker")
	c.Place(e, false)
	within(t, started)

	swapped := make(chan error, 1)
	go func() {
		_, err := c.SwapLink(Link{Return: Wait}, true)
		swapped <- err
	}()

	within(t, st.entered)
	if !c.IsSwapping() {
		t.Fatal(c.State())
	}
	if err := c.Suspend(); err != ContextIsSwapping {
		t.Fatal(err)
	}
	if err := c.Resume(); err != ContextIsSwapping {
		t.Fatal(err)
	}
	if err := c.Push(NewEntry("x", nil), false); err != ContextIsSwapping {
		t.Fatal(err)
	}
	if _, err := c.Swap(NewEntry("x", nil), false); err != ContextIsSwapping {
		t.Fatal(err)
	}
	if err := c.Place(NewEntry("x", nil), false); err != ContextIsSwapping {
		t.Fatal(err)
	}
	close(st.release)

	select {
	case err := <-swapped:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(patience):
		t.Fatal("swap didn't finish")
	}
	if !c.IsStarted() {
		t.Fatal(c.State())
	}
	close(release)
}

func TestConcurrentSwaps(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}

	const n = 16
	var (
		entries = make([]*Entry, n)
		prevs   = make([]*Entry, n)
		wg      sync.WaitGroup
	)
	for i := range entries {
		entries[i] = NewEntry("e", nil)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := Retry(func() error {
				var err error
				prevs[i], err = c.Swap(entries[i], false)
				return err
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	// Serialized swaps form a chain: each entry is handed back
	// exactly once except the last one installed, and nil is
	// handed back exactly once.
	pending := c.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending %v", pending)
	}
	seen := make(map[*Entry]int, n)
	for _, p := range prevs {
		seen[p]++
	}
	if seen[nil] != 1 {
		t.Fatalf("nil returned %d times", seen[nil])
	}
	for _, e := range entries {
		want := 1
		if e == pending[0] {
			want = 0
		}
		if seen[e] != want {
			t.Fatalf("%s returned %d times", e, seen[e])
		}
	}
}

func TestStateExclusivity(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	var (
		stop atomic.Bool
		bad  atomic.Int32
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		terminal := false
		for !stop.Load() {
			s := c.State()
			if terminal && !s.Final() {
				bad.Store(int32(s))
			}
			terminal = s.Final()
			switch s {
			case Created, Waiting, Started, Suspended, Swapping, Terminated, Suicide:
			default:
				bad.Store(int32(s))
			}
		}
	}()

	for i := 0; i < 50; i++ {
		c.Place(NewEntry("x", nil), i%2 == 0)
		c.Suspend()
		c.Resume()
	}
	c.Close()
	stop.Store(true)
	wg.Wait()

	if s := bad.Load(); s != 0 {
		t.Fatalf("saw %s", State(s))
	}
}

// flakyTracer fails on demand.
type flakyTracer struct {
	*trace.Gate
	failSeize    bool
	failContinue atomic.Bool
}

var flaky = errors.New("flaky")

func (f *flakyTracer) Seize(id trace.ID) error {
	if f.failSeize {
		return flaky
	}
	return f.Gate.Seize(id)
}

func (f *flakyTracer) Continue(id trace.ID) error {
	if f.failContinue.Load() {
		return flaky
	}
	return f.Gate.Continue(id)
}

func TestCreateFailure(t *testing.T) {
	g := trace.NewGate()
	_, err := New(&Conf{
		Name:   "doomed",
		Tracer: &flakyTracer{Gate: g, failSeize: true},
	})
	var cf *ContextCreateFailure
	if !errors.As(err, &cf) {
		t.Fatalf("got %v", err)
	}
	if !errors.Is(err, flaky) {
		t.Fatalf("got %v", err)
	}
	waitFor(t, "detach", func() bool { return g.Len() == 0 })

	// A unit that can't be continued is never announced.
	r := newRecorder()
	f := &flakyTracer{Gate: g}
	f.failContinue.Store(true)
	_, err = New(&Conf{
		Name:     "stuck",
		Tracer:   f,
		Observer: r.Listener(),
	})
	if !errors.As(err, &cf) {
		t.Fatalf("got %v", err)
	}
	waitFor(t, "detach", func() bool { return g.Len() == 0 })
	if heard := r.Events(); len(heard) != 0 {
		t.Fatalf("heard %v", heard)
	}

	var nobody *counter
	_, err = New(&Conf{
		Name:     "nil observer",
		Tracer:   g,
		Observer: Observers{nobody},
	})
	if !errors.Is(err, NilObserver) {
		t.Fatalf("got %v", err)
	}

	_, err = New(&Conf{
		Name: "bad attr",
		Attr: &attr.Attr{Priority: 100},
	})
	if !errors.As(err, &cf) {
		t.Fatalf("got %v", err)
	}
}

func TestResumeFailure(t *testing.T) {
	f := &flakyTracer{Gate: trace.NewGate()}
	c, err := New(&Conf{
		Name:   "flaky",
		Tracer: f,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	waitFor(t, "waiting", c.IsWaiting)

	if err := c.Suspend(); err != nil {
		t.Fatal(err)
	}
	a := NewEntry("a", nil)
	c.Place(a, false)

	f.failContinue.Store(true)

	err = c.Resume()
	var rf *ContextResumeFailure
	if !errors.As(err, &rf) {
		t.Fatalf("got %v", err)
	}
	if !c.IsSuspended() {
		t.Fatal(c.State())
	}

	// A failed auto-resume undoes the swap.
	b := NewEntry("b", nil)
	if _, err := c.Swap(b, true); !errors.As(err, &rf) {
		t.Fatalf("got %v", err)
	}
	if p := c.Pending(); len(p) != 1 || p[0] != a {
		t.Fatalf("pending %v", p)
	}

	f.failContinue.Store(false)
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	if c.IsSuspended() {
		t.Fatal(c.State())
	}
}

func TestStatus(t *testing.T) {
	c := newContext(t, nil)
	defer c.Close()

	e, started, release := blocker("blocker")
	c.Place(e, false)
	within(t, started)
	c.Suspend()
	c.Place(NewEntry("next", nil), false)

	s := c.Status()
	if s.State != Suspended || s.Current != "blocker" || JS(s.Pending) != `["next"]` {
		t.Fatal(JS(s))
	}
	c.Resume()
	close(release)
}
