// Package httpstages provides pipeline stages for remote fetches and for
// parsing the text they return.
//
// The network stages (Get, Download, DownloadThrottled, DownloadFile) go
// through the run's fetcher, so they share its session and, in replay mode,
// its cache. Parsers (ParseJSON, ParseJSONTo, ParseHTML, ParseXML, ParseFeed) accept
// []byte or string and are plain one-to-one transforms; Expect verifies a
// value and fails the run if it is not as expected.
//
// Example pipeline: record url → Download → ParseJSON → Expect(predicate)
//
//	p := &pipeline.Pipeline{
//	    Name:   "check-api",
//	    Replay: true,
//	    Stages: func(*pipeline.Run) ([]pipeline.Stage, error) {
//	        return []pipeline.Stage{
//	            pipeline.Values(pipeline.NewRecord("url", "https://api.example.com/status")),
//	            httpstages.Download().On("url", "body"),
//	            httpstages.ParseJSON().On("body", "status"),
//	        }, nil
//	    },
//	}
package httpstages
