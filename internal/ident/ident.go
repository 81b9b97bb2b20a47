// Package ident derives fixed-length opaque identifiers from human-readable
// strings. They serve as natural keys for entities that have no better key,
// such as acquisition centers and devices.
package ident

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Size is the length of every identifier returned by Hash.
const Size = md5.Size * 2

// Hash returns the lowercase hex md5 digest of s. The same input always
// yields the same identifier across runs and machines.
func Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DeviceIdentifier builds the natural key of an acquisition device from its
// manufacturer, model/version and serial number.
func DeviceIdentifier(manufacturer, model, serial string) string {
	return Hash(strings.Join([]string{
		strings.TrimSpace(manufacturer),
		strings.TrimSpace(model),
		strings.TrimSpace(serial),
	}, "_"))
}
