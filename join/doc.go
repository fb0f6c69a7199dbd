// Package join correlates streams by originating time.
//
// A Join samples a secondary stream at each primary's originating time
// through an Interpolator (Nearest, NearestUnbounded, LastBefore, optionally
// wrapped by WithDefault). Primaries resolve strictly in order; each output
// is posted at its primary's time, so joins compose. NWay folds pairwise
// joins into flat tuples, and Parallel splits a keyed stream into per-key
// substreams whose results are re-joined by time.
package join
