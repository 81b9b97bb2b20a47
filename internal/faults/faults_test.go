package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFault_Error(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := New(MissingGroup, "group %q not found", "toy_V1")
		assert.Equal(t, `[MISSING_GROUP] group "toy_V1" not found`, err.Error())
	})

	t.Run("wrapped cause and context", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, Backend, "apply batch").(*Fault)
		err.With(CtxEntityType, "Scan").With(CtxIdentifier, "toy_V1_s1_t1")
		assert.Equal(t, "[BACKEND] apply batch: connection refused {entity_type=Scan, identifier=toy_V1_s1_t1}", err.Error())
		assert.ErrorIs(t, err, cause)
	})
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(nil, Backend, "nothing"))
}

func TestIs(t *testing.T) {
	inner := New(DataCorruption, "two rows")
	outer := Wrap(inner, Backend, "resolve")
	plain := fmt.Errorf("import: %w", outer)

	assert.True(t, Is(plain, Backend))
	assert.True(t, Is(plain, DataCorruption), "nested fault kinds are visible")
	assert.False(t, Is(plain, MissingGroup))
	assert.False(t, Is(errors.New("x"), Backend))
	assert.False(t, Is(nil, Backend))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, UnknownSubject, KindOf(fmt.Errorf("wrap: %w", New(UnknownSubject, "s9"))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
