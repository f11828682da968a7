package gcworker

import "errors"

// ErrFilterClosed is returned by Close when the filter has already been
// closed. Close is the only method that returns it.
var ErrFilterClosed = errors.New("gcworker: filter already closed")

// EngineErrorHandler is invoked when a write to the engine fails mid- or
// end-of-compaction. The callback ABI this filter is bound to has no error
// channel back to the engine, so per spec.md §7/§9 the source's
// panic-on-error behavior is made a configuration point instead.
//
// EngineErrorHandler only gets to observe the failure for logging/alerting
// purposes — it does not decide whether to stop. WriteCompactionFilter and
// gcbatch.Batcher each poison themselves on the write error that triggers
// this callback, so every Write error that reaches here is already
// terminal for the rest of this filter's life regardless of what the
// handler itself does.
type EngineErrorHandler func(err error)

// defaultEngineErrorHandler logs through logger at FATAL. Note that
// Logger.Fatalf only transitions background state to stopped if a
// FatalHandler was registered with SetFatalHandler; this package never
// registers one, so by itself Fatalf is just a log line here. The actual
// stop is the stopped flag in WriteCompactionFilter (see enqueueDefaultDelete
// and resolveTail) and the poisoned flag in gcbatch.Batcher — not a side
// effect of logging.
func defaultEngineErrorHandler(logger Logger) EngineErrorHandler {
	return func(err error) {
		logger.Fatalf("engine write failed, GC side effects suspended for remainder of compaction: %v", err)
	}
}
