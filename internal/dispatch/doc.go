// Package dispatch routes event occurrences to the case instances and
// definitions subscribed to them.
//
// Processing one occurrence has two phases:
//
//  1. Query phase: derive the correlation keys and look up the matching
//     subscriptions inside one unit of work.
//  2. Dispatch phase: classify each subscription and run its action
//     (resume a waiting plan item or start a new case) in its own unit of
//     work, unconditional matches first.
//
// A failure in the query phase aborts the occurrence before anything was
// dispatched. A failure in the dispatch phase leaves earlier dispositions
// committed and, by default, skips the remaining ones.
package dispatch
