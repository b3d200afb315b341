package realtime

import (
	"context"
	"reflect"
	"sync"
	"time"

	"gitlab.com/techviking/realtime/logger"
)

// execFunc performs one remote call on conn.
type execFunc[T any] func(ctx context.Context, conn HubConnection, method string, args []any) (T, error)

// tracker is the tracked async call shared by every invoke and send variant.
// Each call is tagged with a sequence number and only the latest call may
// commit its outcome.
type tracker[T any] struct {
	kind     string
	keepData bool
	exec     execFunc[T]
	tel      *telemetry

	mu  sync.Mutex
	seq uint64

	state observable[Result[T]]
}

func newTracker[T any](kind string, keepData bool, exec execFunc[T], opts []Option) *tracker[T] {
	o := buildOptions(kind, opts)
	return &tracker[T]{
		kind:     kind,
		keepData: keepData,
		exec:     exec,
		tel:      newTelemetry(o),
	}
}

func (t *tracker[T]) next() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

func (t *tracker[T]) latest(seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return seq == t.seq
}

// begin tags a new call and marks the result loading, keeping the previous
// data and error visible until the call settles.
func (t *tracker[T]) begin() uint64 {
	seq := t.next()
	t.state.publish(func(prev Result[T]) (Result[T], bool) {
		if !t.latest(seq) {
			return prev, false
		}
		prev.Loading = true
		return prev, true
	})
	return seq
}

// commit stores r unless a newer call has started since seq.
func (t *tracker[T]) commit(seq uint64, r Result[T]) bool {
	return t.state.publish(func(prev Result[T]) (Result[T], bool) {
		if !t.latest(seq) {
			return prev, false
		}
		return r, true
	})
}

// noConnection supersedes any call in flight and reports ErrNoConnection.
func (t *tracker[T]) noConnection(method string) {
	seq := t.next()
	t.commit(seq, errorResult[T](ErrNoConnection))
	t.tel.recordCall(context.Background(), nil, t.kind, method, ErrNoConnection, 0)
}

func (t *tracker[T]) execute(ctx context.Context, seq uint64, conn HubConnection, method string, args []any) (T, error) {
	started := time.Now()
	ctx, span := t.tel.startSpan(ctx, t.kind, method)

	data, err := t.exec(ctx, conn, method, args)
	t.tel.recordCall(ctx, span, t.kind, method, err, time.Since(started))

	if err != nil {
		var zero T
		if !t.commit(seq, errorResult[T](err)) {
			t.tel.log.Debug("discarding stale failure", logger.Fields(logger.FieldMethod, method))
		}
		return zero, err
	}

	stored := data
	if !t.keepData {
		var zero T
		stored = zero
	}
	if !t.commit(seq, newResult(false, stored, nil)) {
		t.tel.log.Debug("discarding stale result", logger.Fields(logger.FieldMethod, method))
	}
	return data, nil
}

func (t *tracker[T]) result() Result[T] {
	return t.state.get()
}

// eagerCall re-fires its call whenever the connection, the connected flag,
// the method or any argument changes.
type eagerCall[T any] struct {
	tr  *tracker[T]
	src Source

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	method    string
	args      []any
	last      callInputs
	evaluated bool
	closed    bool
	stopWatch func()
}

type callInputs struct {
	conn      HubConnection
	connected bool
	method    string
	args      []any
}

func (a callInputs) equal(b callInputs) bool {
	return a.conn == b.conn && a.connected == b.connected && a.method == b.method && argsEqual(a.args, b.args)
}

func newEagerCall[T any](tr *tracker[T], src Source, method string, args []any) *eagerCall[T] {
	ctx, cancel := context.WithCancel(context.Background())
	e := &eagerCall[T]{
		tr:     tr,
		src:    sourceOrEmpty(src),
		ctx:    ctx,
		cancel: cancel,
		method: method,
		args:   cloneArgs(args),
	}

	e.mu.Lock()
	e.stopWatch = e.src.Watch(func(snap Snapshot) { e.onSnapshot(snap) })
	e.evaluateLocked(e.src.Snapshot())
	e.mu.Unlock()
	return e
}

// Update changes the method and arguments. Arguments are compared element by
// element; the call re-fires only when something differs.
func (e *eagerCall[T]) Update(method string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.method = method
	e.args = cloneArgs(args)
	e.evaluateLocked(e.src.Snapshot())
}

// Result returns the latest result.
func (e *eagerCall[T]) Result() Result[T] {
	return e.tr.result()
}

// Watch registers fn for every result change. fn must not call Update or Close.
func (e *eagerCall[T]) Watch(fn func(Result[T])) (stop func()) {
	return e.tr.state.watch(fn)
}

// Close stops reacting to changes. Calls in flight are abandoned.
func (e *eagerCall[T]) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	stop := e.stopWatch
	e.mu.Unlock()

	stop()
	// results of calls still in flight are dropped
	e.tr.next()
	e.cancel()
}

func (e *eagerCall[T]) onSnapshot(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.evaluateLocked(snap)
}

func (e *eagerCall[T]) evaluateLocked(snap Snapshot) {
	in := callInputs{
		conn:      snap.Connection,
		connected: snap.IsConnected(),
		method:    e.method,
		args:      e.args,
	}
	if e.evaluated && in.equal(e.last) {
		return
	}
	e.evaluated = true
	e.last = in

	if in.conn == nil {
		e.tr.noConnection(in.method)
		return
	}
	if !in.connected {
		return
	}

	seq := e.tr.begin()
	go e.tr.execute(e.ctx, seq, in.conn, in.method, in.args)
}

// lazyCall fires only when its trigger is called.
type lazyCall[T any] struct {
	tr  *tracker[T]
	src Source

	mu     sync.Mutex
	method string
}

func newLazyCall[T any](tr *tracker[T], src Source, method string) *lazyCall[T] {
	return &lazyCall[T]{tr: tr, src: sourceOrEmpty(src), method: method}
}

// SetMethod changes the method used by subsequent triggers.
func (l *lazyCall[T]) SetMethod(method string) {
	l.mu.Lock()
	l.method = method
	l.mu.Unlock()
}

// Result returns the latest result.
func (l *lazyCall[T]) Result() Result[T] {
	return l.tr.result()
}

// Watch registers fn for every result change.
func (l *lazyCall[T]) Watch(fn func(Result[T])) (stop func()) {
	return l.tr.state.watch(fn)
}

func (l *lazyCall[T]) trigger(ctx context.Context, args []any) (T, error) {
	l.mu.Lock()
	method := l.method
	l.mu.Unlock()

	conn := Access(l.src).Connection()
	if conn == nil {
		var zero T
		l.tr.noConnection(method)
		return zero, ErrNoConnection
	}

	seq := l.tr.begin()
	return l.tr.execute(ctx, seq, conn, method, cloneArgs(args))
}

func cloneArgs(args []any) []any {
	if len(args) == 0 {
		return []any{}
	}
	out := make([]any, len(args))
	copy(out, args)
	return out
}

// argsEqual compares argument lists element by element. Comparable values
// use ==; slices, maps and other non-comparable values fall back to
// reflect.DeepEqual.
func argsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameArg(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameArg(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	tx, ty := reflect.TypeOf(x), reflect.TypeOf(y)
	if tx != ty {
		return false
	}
	if tx.Comparable() {
		return comparableEqual(x, y)
	}
	return reflect.DeepEqual(x, y)
}

// comparableEqual guards == for structs or arrays that hold non-comparable
// values behind interfaces.
func comparableEqual(x, y any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(x, y)
		}
	}()
	return x == y
}
