package search

import "errors"

// errAllSegmentsFailed is returned when every segment in an index
// failed to answer a query; a partial failure is logged and excluded
// from the merge instead, per spec's "partial fleet failures are
// logged but do not fail the query unless every segment fails".
var errAllSegmentsFailed = errors.New("search: every segment failed to answer the query")
