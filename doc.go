// Package querysync is a client-side cache of server-derived data with
// optimistic mutations. It keeps query results consistent across concurrent
// reads, background polling and user-initiated writes that are shown before
// the server confirms them and rolled back when it refuses.
//
// Components:
//   - Store: keyed table of Entry values with synchronous subscriber fan-out.
//   - Executor: runs fetches. One in-flight fetch per Key, every fetch tagged
//     with a generation; a result whose generation was superseded is dropped.
//     Handles staleness, polling and keep-previous-data on key change.
//   - Controller / Mutate: snapshot, optimistic apply, remote call, then
//     commit or exact rollback, then invalidation.
//   - Bus: marks entries stale (data kept) and refetches observed keys.
//
// Keys:
//
//	NewKey("tickets", Params{"page": 1, "status": ""}) // == NewKey("tickets", Params{"page": 1})
//	Prefix("tickets")                                  // matches every tickets page
//
// Optimistic pattern:
//
//	out := querysync.Mutate(ctx, client.Controller(), req, querysync.MutationConfig[Req, Resp]{
//	    Remote:     api.Update,
//	    Optimistic: func(r Req) querysync.Patch { ... },
//	    Commit:     func(resp Resp, r Req, k querysync.Key, data any) (any, bool) { ... },
//	})
//	if out.RolledBack() { ... }
package querysync
