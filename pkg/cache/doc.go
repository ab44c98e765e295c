/*
Package cache is the generic cross-request memoizer backing the query
result cache, generalized (per the original's
multi_type_async_lru) into a type-parameterized `(key) -> (value,
read set)` cache any component can instantiate - the query cache keys on
`(component, udf_path, arg_fingerprint, pagination_flag)`.

GetOrBuild guarantees at most one concurrent build per key via
singleflight; a commit invalidates every entry whose stored read set
intersects the commit's write set, the same check pkg/subscription uses
for client-visible invalidation, so the two caches agree about when a
result is stale without sharing any other code.
*/
package cache
