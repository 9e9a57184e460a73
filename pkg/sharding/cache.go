// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"encoding/binary"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Cache interns specs: structurally equal specs (see Equal) are replaced by a single shared instance,
// so the specs of all uses of a tensor can be compared by reference.
//
// It is safe for concurrent use. The zero value is ready to use.
type Cache struct {
	mu      sync.Mutex
	buckets map[uint64][]Spec
	hits    int
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Intern returns the cached spec equal to spec, or caches and returns spec itself if there is none.
// Elements of tuples are interned as well.
func (c *Cache) Intern(spec Spec) Spec {
	if t, ok := spec.(*Tuple); ok {
		elems := make([]Spec, len(t.elems))
		changed := false
		for i, elem := range t.elems {
			elems[i] = c.Intern(elem)
			changed = changed || elems[i] != elem
		}
		if changed {
			spec = &Tuple{base: t.base, elems: elems}
		}
	}

	fp := Fingerprint(spec)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buckets == nil {
		c.buckets = make(map[uint64][]Spec)
	}
	for _, cached := range c.buckets[fp] {
		if Equal(cached, spec) {
			c.hits++
			return cached
		}
	}
	c.buckets[fp] = append(c.buckets[fp], spec)
	return spec
}

// Len returns the number of distinct specs cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bucket := range c.buckets {
		n += len(bucket)
	}
	return n
}

// Hits returns how many times Intern returned a previously cached spec.
func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Fingerprint returns a hash of the structure of spec, consistent with Equal.
func Fingerprint(spec Spec) uint64 {
	return murmur3.Sum64(appendSpec(nil, spec))
}

func appendInts(buf []byte, values []int) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(values)))
	for _, v := range values {
		buf = binary.AppendVarint(buf, int64(v))
	}
	return buf
}

// appendSpec appends a canonical encoding of spec.
func appendSpec(buf []byte, spec Spec) []byte {
	buf = append(buf, byte(spec.Kind()))
	if spec.IsImmutable() {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	switch s := spec.(type) {
	case *Shard:
		buf = binary.AppendVarint(buf, int64(s.localRank))
		buf = appendInts(buf, s.ranks)
		buf = appendInts(buf, s.phyShape)
		buf = appendInts(buf, s.subgroupShape)
	case *Tuple:
		buf = binary.AppendUvarint(buf, uint64(len(s.elems)))
		for _, elem := range s.elems {
			buf = appendSpec(buf, elem)
		}
	}
	return buf
}
