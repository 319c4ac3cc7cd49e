package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *Record {
	return &Record{Fields: []Field{
		{Key: "factory", Type: "namespace"},
		{Key: SerialKey, Type: "data", Encoding: "u32", Value: "00007"},
		{Key: HWGenKey, Type: "data", Encoding: "u16", Value: "B"},
	}}
}

func TestRecordGetField(t *testing.T) {
	r := testRecord()

	f, err := r.GetField(SerialKey)
	require.NoError(t, err)
	assert.Equal(t, "00007", f.Value)
	assert.Equal(t, "u32", f.Encoding)

	_, err = r.GetField(DevEUIKey)
	require.ErrorIs(t, err, ErrFieldNotFound)
	assert.Contains(t, err.Error(), DevEUIKey)
}

func TestRecordSetField(t *testing.T) {
	t.Run("replaces in place", func(t *testing.T) {
		r := testRecord()
		r.SetField(SerialKey, "00008")

		require.Len(t, r.Fields, 3)
		assert.Equal(t, Field{Key: SerialKey, Type: "data", Encoding: "u32", Value: "00008"}, r.Fields[1])
	})

	t.Run("appends with default schema", func(t *testing.T) {
		r := testRecord()
		r.SetField(DevEUIKey, "0011223344556677")

		require.Len(t, r.Fields, 4)
		assert.Equal(t, Field{Key: DevEUIKey, Type: "data", Encoding: "string", Value: "0011223344556677"}, r.Fields[3])
	})

	t.Run("appends with explicit encoding", func(t *testing.T) {
		r := testRecord()
		r.SetFieldWithEncoding(AppKeyKey, "hex2bin", "00")
		r.SetFieldWithEncoding(SerialKey, "hex2bin", "00009")

		require.Len(t, r.Fields, 4)
		assert.Equal(t, "hex2bin", r.Fields[3].Encoding)
		assert.Equal(t, "u32", r.Fields[1].Encoding, "existing fields keep their encoding")
	})
}

func TestRecordClone(t *testing.T) {
	r := testRecord()
	c := r.Clone()
	c.SetField(SerialKey, "99999")

	v, ok := r.Value(SerialKey)
	require.True(t, ok)
	assert.Equal(t, "00007", v)
	assert.True(t, c.Has(SerialKey))
}

func TestContentID(t *testing.T) {
	id := ComputeID([]byte("audit"))

	parsed, err := NewContentIDFromHex("0x" + id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))

	_, err = NewContentIDFromHex("abcd")
	assert.Error(t, err)
}
