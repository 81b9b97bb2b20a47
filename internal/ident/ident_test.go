package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_Deterministic(t *testing.T) {
	a := Hash("NeuroSpin")
	b := Hash("NeuroSpin")

	assert.Equal(t, a, b)
	assert.Len(t, a, Size)
	assert.NotEqual(t, a, Hash("neurospin"), "hash is case sensitive")
}

func TestHash_KnownValue(t *testing.T) {
	// md5("") is a well-known constant.
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Hash(""))
}

func TestDeviceIdentifier(t *testing.T) {
	id := DeviceIdentifier("Siemens", "TrioTim", "35276")

	assert.Len(t, id, Size)
	assert.Equal(t, id, DeviceIdentifier(" Siemens ", "TrioTim", "35276 "), "surrounding spaces are ignored")
	assert.NotEqual(t, id, DeviceIdentifier("Siemens", "Prisma", "35276"))
}
