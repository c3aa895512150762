// Package filestages provides pipeline stages that read file-like values:
// CSV tables, zip archives and iCalendar feeds.
//
// Inputs are usually produced by httpstages.DownloadFile (a *fetch.TempFile)
// or httpstages.Download (a string body). Stages that hand out open handles
// (Unzip, ZipEntries) close them once downstream is done with the value, so a
// handle must not be kept past the step that receives it.
//
//	stages := []pipeline.Stage{
//	    pipeline.Values("https://example.org/permits.zip"),
//	    httpstages.DownloadFile(),
//	    filestages.Unzip(),
//	    filestages.ZipEntries("*.csv"),
//	    filestages.ParseCSV(),
//	}
package filestages
