// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package streampool

import (
	"strconv"
	"sync"
)

// Tag identifies a purpose for a stream (compute, memory copy, communication, ...). Streams with different
// tags run concurrently with each other.
type Tag int32

const (
	Unknown Tag = iota
	Compute
	MemCpyHostToDevice
	MemCpyDeviceToHost
	MemCpyDeviceToDevice
	Communicate
	Reserved1
	Reserved2
	Reserved3
	Reserved4
	Reserved5
	Reserved6
	Reserved7
	Reserved8
	Reserved9
	Reserved10

	// NumFixedTags is the number of predefined tags. Tags interned by name in a TagTable get
	// indices starting from it.
	NumFixedTags
)

var tagNames = [NumFixedTags]string{
	"Unknown", "Compute", "MemCpyHostToDevice", "MemCpyDeviceToHost", "MemCpyDeviceToDevice", "Communicate",
	"Reserved1", "Reserved2", "Reserved3", "Reserved4", "Reserved5",
	"Reserved6", "Reserved7", "Reserved8", "Reserved9", "Reserved10",
}

var tagDescriptions = [NumFixedTags]string{
	Unknown:              "Unknown",
	Compute:              "Device compute",
	MemCpyHostToDevice:   "Memcopy from host to device",
	MemCpyDeviceToHost:   "Memcopy from device to host",
	MemCpyDeviceToDevice: "Memcopy from device to device",
	Communicate:          "Communicate between devices",
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	if t >= 0 && t < NumFixedTags {
		return tagNames[t]
	}
	return "Tag(" + strconv.Itoa(int(t)) + ")"
}

// Description returns a human-readable description of the predefined tags.
func (t Tag) Description() string {
	if t < 0 || t >= NumFixedTags {
		return "Dynamically named tag"
	}
	if t >= Reserved1 {
		return "Reserved for other devices"
	}
	return tagDescriptions[t]
}

// TagTable interns tag names to tag indices. The names of the predefined tags map to their
// own index; other names get new indices, starting at NumFixedTags, in the order they are first seen.
//
// It is safe for concurrent use.
type TagTable struct {
	mu      sync.Mutex
	indices map[string]Tag
}

// NewTagTable returns a table with the predefined tags.
func NewTagTable() *TagTable {
	tt := &TagTable{indices: make(map[string]Tag, NumFixedTags)}
	for tag := range NumFixedTags {
		tt.indices[tagNames[tag]] = tag
	}
	return tt
}

// Index returns the index of the tag name, interning it if it is new.
func (tt *TagTable) Index(name string) Tag {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tag, found := tt.indices[name]; found {
		return tag
	}
	tag := Tag(len(tt.indices))
	tt.indices[name] = tag
	return tag
}

// Len returns the number of tags known, predefined tags included.
func (tt *TagTable) Len() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.indices)
}
