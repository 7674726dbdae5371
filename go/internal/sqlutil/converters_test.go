package sqlutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullUUID(t *testing.T) {
	assert.False(t, ToNullUUID(nil).Valid)
	assert.Nil(t, FromNullUUID(uuid.NullUUID{}))

	id := uuid.New()
	got := FromNullUUID(ToNullUUID(&id))
	require.NotNil(t, got)
	assert.Equal(t, id, *got)
}

func TestNumeric(t *testing.T) {
	d, err := FromNumeric("120.50")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, "120.5", ToNumeric(d))

	_, err = FromNumeric("abc")
	assert.Error(t, err)
}
