package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_ScanValue(t *testing.T) {
	v := Vector{0.5, -1, 2}
	val, err := v.Value()
	require.NoError(t, err)
	assert.Equal(t, "[0.5,-1,2]", val)

	var got Vector
	require.NoError(t, got.Scan([]byte("[0.5,-1,2]")))
	assert.Equal(t, v, got)

	require.NoError(t, got.Scan("[1]"))
	assert.Equal(t, Vector{1}, got)
}

func TestVector_Empty(t *testing.T) {
	val, err := Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	got := Vector{1}
	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got)

	got = Vector{1}
	require.NoError(t, got.Scan(""))
	assert.Nil(t, got)
}

func TestJSONStringArray_Scan(t *testing.T) {
	var j JSONStringArray
	require.NoError(t, j.Scan(`["a","b"]`))
	assert.Equal(t, JSONStringArray{"a", "b"}, j)

	assert.Error(t, j.Scan(42))
}

func TestItemType_Valid(t *testing.T) {
	assert.True(t, ItemTypeNote.Valid())
	assert.True(t, ItemTypeCode.Valid())
	assert.False(t, ItemType("video").Valid())
}
