// Package component defines the lifecycle and discovery contracts shared by
// the pipeline stages (generator, extractor, archiver), plus a Manager that
// starts them in order and stops them in reverse.
//
// Components follow the unified lifecycle pattern:
//
//	Initialize() error                  // setup/validation only, no context
//	Start(ctx context.Context) error    // start goroutines, ctx passed through
//	Stop(timeout time.Duration) error   // graceful shutdown with deadline
//
// A component never stores the context it receives; the Manager owns a named
// child context per component so individual stages can be cancelled during
// shutdown.
package component
