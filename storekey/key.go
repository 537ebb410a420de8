// Package storekey implements the Key module of the store core: a
// tagged StoreKey variant (ByIdKey or QueryKey), the opaque Namespace
// wrapper used for bulk invalidation, and a deterministic 64-bit
// stable_hash grounded in the donor's FNV-1a hashing idiom
// (pkg/utils/hash.go's HashRing.hashKey), simplified here from a
// consistent-hash ring down to the plain combine-and-fold the spec
// asks for.
package storekey

import (
	"hash/fnv"
	"sort"
	"strings"
)

// Namespace is an opaque string wrapper used for bulk invalidation
// (§3). It carries no semantics beyond equality and prefix matching.
type Namespace string

// HasPrefix reports whether ns is equal to or nested under prefix,
// treating namespaces as ':'-delimited path segments the way the
// donor's pattern matchers treat cache keys (invalidation/patterns.go).
func (ns Namespace) HasPrefix(prefix Namespace) bool {
	if ns == prefix {
		return true
	}
	return strings.HasPrefix(string(ns), string(prefix)+":")
}

// Param is one (name, value) pair of a QueryKey's ordered parameter
// set.
type Param struct {
	Name  string
	Value string
}

// StoreKey is the tagged variant described in §3: either a ByIdKey or
// a QueryKey. Every implementation supplies equality, a stable
// 64-bit hash independent of pointer identity or map iteration order
// (invariant 5), and a CanonicalString suitable for use as a Go map
// key — StoreKey itself is not used directly as a map key anywhere in
// this module because QueryKey carries a slice field, which is not
// comparable.
type StoreKey interface {
	isStoreKey()
	// Namespace returns the namespace this key belongs to.
	Namespace() Namespace
	// StableHash returns a deterministic 64-bit hash of the key's
	// canonical content (invariant 5).
	StableHash() uint64
	// CanonicalString returns a unique, order-independent string
	// representation suitable for use as a Go map key.
	CanonicalString() string
	// String returns a human-readable representation for logging.
	String() string
}

// ByIdKey identifies a single entity by namespace, type, and id.
type ByIdKey struct {
	NS   Namespace
	Type string
	ID   string
}

func (ByIdKey) isStoreKey() {}

func (k ByIdKey) Namespace() Namespace { return k.NS }

func (k ByIdKey) StableHash() uint64 {
	return stableHash("byid", string(k.NS), k.Type, k.ID)
}

func (k ByIdKey) CanonicalString() string {
	return "byid:" + string(k.NS) + ":" + k.Type + ":" + k.ID
}

func (k ByIdKey) String() string { return k.CanonicalString() }

// Equal reports whether other is the same ByIdKey.
func (k ByIdKey) Equal(other StoreKey) bool {
	o, ok := other.(ByIdKey)
	return ok && o.NS == k.NS && o.Type == k.Type && o.ID == k.ID
}

// QueryKey identifies a cached query/view result by namespace, a
// shape discriminator (the query's name, e.g. "search" or "listPosts"),
// and an ordered set of parameters.
//
// Equality and StableHash both canonicalize Params by sorting on Name
// before comparing: the spec treats Params as a "set", and invariant 5
// requires the hash to be independent of the order a caller happened
// to build the slice in.
type QueryKey struct {
	NS     Namespace
	Shape  string
	Params []Param
}

func (QueryKey) isStoreKey() {}

func (k QueryKey) Namespace() Namespace { return k.NS }

func (k QueryKey) sortedParams() []Param {
	sorted := make([]Param, len(k.Params))
	copy(sorted, k.Params)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Value < sorted[j].Value
	})
	return sorted
}

// canonicalParams serializes the sorted param set to a canonical
// string, per §3's "serialize params in sorted key order to a
// canonical string before hashing".
func (k QueryKey) canonicalParams() string {
	sorted := k.sortedParams()
	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

func (k QueryKey) StableHash() uint64 {
	return stableHash("query", string(k.NS), k.Shape, k.canonicalParams())
}

func (k QueryKey) CanonicalString() string {
	return "query:" + string(k.NS) + ":" + k.Shape + ":" + k.canonicalParams()
}

func (k QueryKey) String() string { return k.CanonicalString() }

// Equal reports whether other is a QueryKey with the same namespace,
// shape, and parameter set (order-independent).
func (k QueryKey) Equal(other StoreKey) bool {
	o, ok := other.(QueryKey)
	if !ok || o.NS != k.NS || o.Shape != k.Shape || len(o.Params) != len(k.Params) {
		return false
	}
	return k.canonicalParams() == o.canonicalParams()
}

// stableHash combines the given parts with FNV-1a, separating each
// part with a NUL byte so that ("ab", "c") and ("a", "bc") never
// collide. This is the same fold-to-64-bits technique the donor uses
// in pkg/utils/hash.go's consistent-hash ring, applied here to a
// single deterministic combine instead of a ring of many keys.
func stableHash(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
