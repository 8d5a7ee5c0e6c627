package errs_test

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scarfbench/scarf/internal/errs"
)

func TestKindMatching(t *testing.T) {
	err := errs.Configf("frameworks must differ: %s", "spring")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.NotErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, "configuration error: frameworks must differ: spring", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := errs.IO(fs.ErrPermission, "creating %s", "/x")
	assert.ErrorIs(t, err, errs.ErrIO)
	assert.ErrorIs(t, err, fs.ErrPermission)

	outer := fmt.Errorf("preparing: %w", err)
	assert.ErrorIs(t, outer, errs.ErrIO)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, errs.ErrSpawn, errs.KindOf(errs.Wrap(errs.ErrSpawn, errors.New("boom"), "starting agent")))
	assert.Nil(t, errs.KindOf(errors.New("plain")))
	assert.Nil(t, errs.KindOf(nil))
}
