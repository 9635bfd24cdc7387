package kvstore

// KeyRange is the half-open key interval [InclusiveMin, ExclusiveMax).
// An empty ExclusiveMax leaves the interval unbounded above; the zero
// KeyRange covers every key.
type KeyRange struct {
	InclusiveMin string
	ExclusiveMax string
}

// Empty reports whether the interval contains no keys.
func (r KeyRange) Empty() bool {
	return r.ExclusiveMax != "" && r.ExclusiveMax <= r.InclusiveMin
}

// Contains reports whether key lies inside the interval.
func (r KeyRange) Contains(key string) bool {
	if key < r.InclusiveMin {
		return false
	}
	return r.ExclusiveMax == "" || key < r.ExclusiveMax
}

// PrefixRange returns the KeyRange covering exactly the keys that start
// with prefix. An empty prefix covers every key. A prefix consisting of
// only 0xff bytes has no upper bound.
func PrefixRange(prefix string) KeyRange {
	return KeyRange{InclusiveMin: prefix, ExclusiveMax: prefixSuccessor(prefix)}
}

// prefixSuccessor returns the least key greater than every key with the
// given prefix, or "" when no such key exists.
func prefixSuccessor(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// Prefix returns the listing prefix derived from the lower bound,
// truncated to at most n bytes when n > 0.
func (r KeyRange) Prefix(n int) string {
	p := r.InclusiveMin
	if n > 0 && len(p) > n {
		p = p[:n]
	}
	return p
}
