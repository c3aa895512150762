// Package paginate walks offset-paginated Socrata-style APIs and turns their
// positional rows into pipeline records.
//
// Each page is requested through a Doer (normally the run's *fetch.Fetcher,
// so pages are replayable). A page is validated in full before any of its
// rows is yielded, and the walk ends at the first page shorter than the page
// size.
package paginate
