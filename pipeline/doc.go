// Package pipeline composes ordered stages into one lazy, pull-based stream
// of values, and owns the lifecycle of a run.
//
// A Pipeline declares its stages through a builder called once per run. The
// first stage is a source (Values, Generate, SourceFunc, or a retriever's
// Source); every later stage is one of:
//
//   - Transform: one output per input (Map for typed inputs)
//   - FlatMap: zero or more outputs per input (Expand for slice results)
//   - Filter: passes inputs its predicate accepts (DropNil)
//   - Scoped: yields a resource per input and closes it before pulling the
//     next input, also when downstream stops or panics
//   - Flatten: yields the elements of each incoming sequence
//
// Transform and Scoped stages bound with On(input, output) read one field of
// each incoming *Record and write their result back into the same record.
//
// Composition is O(number of stages): Values only wires iterators together,
// and nothing is fetched until the caller pulls. Any stage may end the run
// early by returning ErrStop, which is treated as a clean completion.
// Breaking out of a range over Values (or closing an Iterator) releases every
// open resource in the chain and runs the pipeline's cleanup: the AfterRun
// hook, the Observer, the run's fetcher and, in replay mode, the cache store.
//
// A run moves through StateCreated, StateRunning, one of StateExhausted,
// StateStoppedEarly or StateFailed, and finally StateCleanedUp. Cleanup is
// unconditional.
//
// Example:
//
//	p := &pipeline.Pipeline{
//		Name:   "events",
//		Replay: true,
//		Stages: func(run *pipeline.Run) ([]pipeline.Stage, error) {
//			return []pipeline.Stage{
//				pipeline.Values(pipeline.NewRecord("url", "https://example.com/a.json")),
//				httpstages.Download().On("url", "body"),
//			}, nil
//		},
//	}
//	for v, err := range p.Values(ctx, &pipeline.RunOptions{CacheDir: ".cache"}) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(v)
//	}
//
// A run is single-threaded and not safe for concurrent use; run independent
// pipelines (with independent stores) for parallel retrieval.
package pipeline
