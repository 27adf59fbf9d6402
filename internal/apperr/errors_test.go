package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindValidation, "importWorld", errors.New("characters must be an array"))

	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrStorage)
	assert.Equal(t, "importWorld: validation_error: characters must be an array", err.Error())
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := New(KindStaleSession, "saveCharacter", nil)
	wrapped := fmt.Errorf("outer: %w", inner)

	got := Wrap(KindStorage, "saveCharacter", wrapped)
	assert.Equal(t, KindStaleSession, KindOf(got))

	assert.Nil(t, Wrap(KindStorage, "noop", nil))
	assert.Equal(t, KindStorage, KindOf(Wrap(KindStorage, "op", errors.New("disk full"))))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
