package pack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRead(t *testing.T) {
	objects := []Object{
		NewObject("Commit", []byte(`{"n":1}`)),
		NewObject("Commit", []byte(`{"n":2}`)),
		NewObject("Other", nil),
	}

	var buf bytes.Buffer
	require.NoError(t, Build(&buf, "label", objects))

	header, got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, "label", header.Label)
	require.Len(t, got, 3)
	for i := range objects {
		assert.Equal(t, objects[i].Kind, got[i].Kind)
		assert.Equal(t, objects[i].Digest, got[i].Digest)
		assert.Equal(t, string(objects[i].Content), string(got[i].Content))
	}
	assert.EqualValues(t, 7, header.Objects[1].Offset)
}

func TestRead_DigestMismatch(t *testing.T) {
	obj := NewObject("Commit", []byte("payload"))
	obj.Content = []byte("tampered")

	var buf bytes.Buffer
	require.NoError(t, Build(&buf, "", []Object{obj}))

	_, _, err := Read(&buf)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestRead_Garbage(t *testing.T) {
	_, _, err := Read(bytes.NewReader([]byte("not a pack")))
	assert.Error(t, err)
}

func TestRead_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build(&buf, "", nil))

	header, objects, err := Read(&buf)
	require.NoError(t, err)
	assert.Empty(t, header.Objects)
	assert.Empty(t, objects)
}
