package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDecodeFieldInt64FromInt32(t *testing.T) {
	v, err := decodeField(TagInt64, int32(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestDecodeFieldDoubleFromInt64(t *testing.T) {
	v, err := decodeField(TagDouble, int64(9))
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
}

func TestDecodeFieldString(t *testing.T) {
	v, err := decodeField(TagString, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestDecodeFieldBool(t *testing.T) {
	v, err := decodeField(TagBool, true)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestDecodeFieldDateTime(t *testing.T) {
	now := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	dt := primitive.NewDateTimeFromTime(now)
	v, err := decodeField(TagDateTime, dt)
	require.NoError(t, err)
	assert.True(t, now.Equal(v.(time.Time)))
}

func TestDecodeFieldObjectIDAsHex(t *testing.T) {
	id := primitive.NewObjectID()
	v, err := decodeField(TagObjectID, id)
	require.NoError(t, err)
	assert.Equal(t, id.Hex(), v)
}

func TestDecodeFieldTypeMismatchErrors(t *testing.T) {
	_, err := decodeField(TagInt64, "not an int")
	assert.Error(t, err)
}

func TestTagCarrierMapping(t *testing.T) {
	assert.Equal(t, "Int64", TagInt64.Carrier().String())
	assert.Equal(t, "Float64", TagDouble.Carrier().String())
	assert.Equal(t, "String", TagString.Carrier().String())
	assert.Equal(t, "Date64", TagDateTime.Carrier().String())
}
