package mql

import (
	"strconv"

	"github.com/transform-data/mql-go/utils"
)

// CacheMode tells the server whether it may read from or write to its result
// cache for one request. The client never interprets it.
type CacheMode int8

const (
	// CacheModeReadWrite reads cached results and stores new ones. It is the
	// zero value and the server default.
	CacheModeReadWrite CacheMode = iota
	// CacheModeRead only reads from the cache.
	CacheModeRead
	// CacheModeWrite recomputes and overwrites the cache.
	CacheModeWrite
	// CacheModeIgnore bypasses the cache entirely.
	CacheModeIgnore
)

var cacheModeMap = utils.NewBiMap(map[CacheMode]string{
	CacheModeReadWrite: "rw",
	CacheModeRead:      "r",
	CacheModeWrite:     "w",
	CacheModeIgnore:    "i",
})

func (m CacheMode) String() string {
	if text, ok := cacheModeMap.Lookup(m); ok {
		return text
	}
	return "CacheMode(" + strconv.Itoa(int(m)) + ")"
}

// ParseCacheMode accepts the short wire forms "r", "rw", "w" and "i".
func ParseCacheMode(str string) (CacheMode, error) {
	return cacheModeMap.Parse("cache mode", str)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (m CacheMode) MarshalText() ([]byte, error) {
	text, err := cacheModeMap.Format("cache mode", m)
	return []byte(text), err
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (m *CacheMode) UnmarshalText(text []byte) error {
	var err error
	*m, err = ParseCacheMode(string(text))
	return err
}
