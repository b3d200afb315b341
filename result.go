package realtime

// Result is the loading/data/error triple tracked for one remote call.
// Loading may be true while Data or Error still hold the previous outcome.
type Result[T any] struct {
	Loading bool
	Data    T
	Error   error
}

func newResult[T any](loading bool, data T, err error) Result[T] {
	return Result[T]{Loading: loading, Data: data, Error: err}
}

func errorResult[T any](err error) Result[T] {
	var zero T
	return newResult(false, zero, err)
}
