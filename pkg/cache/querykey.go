package cache

// QueryKey is the query result cache's key: (component, canonicalized
// udf path, argument fingerprint, pagination flag). It is comparable,
// so it can key cache.Cache directly.
type QueryKey struct {
	Component     string
	UDFPath       string
	ArgFingerprint string
	Paginated     bool
}
