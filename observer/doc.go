// Package observer provides pipeline.Observer implementations.
//
//   - LogObserver: logs the start and the outcome of every run through zap.
//   - RunLog: records each run (pipeline, replay flag, final state, item
//     count, elapsed time and error) in a SQLite table, pipeline_run, so
//     recent runs can be listed from the command line.
//
// Combine them with pipeline.MultiObserver:
//
//	runs, err := observer.OpenRunLog("runs.db")
//	...
//	defer runs.Close()
//	opts := &pipeline.RunOptions{Observer: pipeline.MultiObserver(observer.NewLogObserver(logger), runs)}
package observer
