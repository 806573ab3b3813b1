package util

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// NewID returns a 24-char hex id: 48 bits of Unix milliseconds followed by
// 48 random bits, so ids from one process sort by creation time in logs.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) string {
	var b [12]byte
	var ms [8]byte
	binary.BigEndian.PutUint64(ms[:], uint64(now.UnixMilli()))
	copy(b[:6], ms[2:])
	_, _ = rand.Read(b[6:])
	return hex.EncodeToString(b[:])
}
