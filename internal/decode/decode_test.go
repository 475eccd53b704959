package decode

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/natsift/natsift/internal/config"
	"github.com/natsift/natsift/internal/decode/decodetest"
)

func TestMap_MsgPack(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{
		"enabled":     true,
		"severity":    5,
		"temperature": 42.5,
		"location":    "warehouse",
		"tags":        []string{"urgent", "ops"},
	})
	require.NoError(t, err)

	m, err := Map(config.FormatMsgPack, payload)
	require.NoError(t, err)

	assert.Equal(t, true, m["enabled"])
	assert.EqualValues(t, 5, m["severity"])
	assert.EqualValues(t, 42.5, m["temperature"])
	assert.Equal(t, "warehouse", m["location"])
	require.IsType(t, []any{}, m["tags"])
	assert.Len(t, m["tags"], 2)
}

func TestMap_MsgPackNotMap(t *testing.T) {
	payload, err := msgpack.Marshal([]any{1, 2, 3})
	require.NoError(t, err)

	_, err = Map(config.FormatMsgPack, payload)
	assert.ErrorIs(t, err, ErrNotMap)
}

func TestMap_MsgPackGarbage(t *testing.T) {
	_, err := Map(config.FormatMsgPack, []byte{0xc1, 0xff, 0x00})
	assert.Error(t, err)
}

func TestMap_CBOR(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{
		"enabled":     false,
		"severity":    -3,
		"temperature": 19.25,
		"location":    "dock",
		"codes":       []int64{3, 7},
	})
	require.NoError(t, err)

	m, err := Map(config.FormatCBOR, payload)
	require.NoError(t, err)

	assert.Equal(t, false, m["enabled"])
	assert.EqualValues(t, -3, m["severity"])
	assert.EqualValues(t, 19.25, m["temperature"])
	assert.Equal(t, "dock", m["location"])
	assert.Len(t, m["codes"], 2)
}

func TestMap_CBORNotMap(t *testing.T) {
	payload, err := cbor.Marshal("just a string")
	require.NoError(t, err)

	_, err = Map(config.FormatCBOR, payload)
	assert.ErrorIs(t, err, ErrNotMap)
}

func TestMap_FlexBuffers(t *testing.T) {
	payload := decodetest.FlexMap(map[string]any{
		"enabled":     true,
		"severity":    int64(5),
		"temperature": 42.5,
		"location":    "warehouse",
		"tags":        []string{"urgent", "ops"},
		"codes":       []int64{3, 7},
	})

	m, err := Map(config.FormatFlexBuffers, payload)
	require.NoError(t, err)

	assert.Equal(t, true, m["enabled"])
	assert.EqualValues(t, 5, m["severity"])
	assert.EqualValues(t, 42.5, m["temperature"])
	assert.Equal(t, "warehouse", m["location"])
	assert.Equal(t, []any{"urgent", "ops"}, m["tags"])
	assert.Equal(t, []any{int64(3), int64(7)}, m["codes"])
}

func TestMap_FlexBuffersNegativeInt(t *testing.T) {
	payload := decodetest.FlexMap(map[string]any{"severity": int64(-5)})

	m, err := Map(config.FormatFlexBuffers, payload)
	require.NoError(t, err)
	assert.EqualValues(t, -5, m["severity"])
}

func TestMap_FlexBuffersErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := Map(config.FormatFlexBuffers, nil)
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Map(config.FormatFlexBuffers, []byte{1, 1})
		assert.Error(t, err)
	})

	t.Run("invalid root width", func(t *testing.T) {
		_, err := Map(config.FormatFlexBuffers, []byte{0, 0, 9})
		assert.Error(t, err)
	})
}

func TestMap_Zera(t *testing.T) {
	payload := decodetest.Zera(map[string]any{
		"enabled":     true,
		"severity":    int64(5),
		"temperature": 42.5,
		"location":    "warehouse",
		"tags":        []any{"urgent", "ops"},
		"nested":      map[string]any{"deep": int64(1)},
	})

	m, err := Map(config.FormatZera, payload)
	require.NoError(t, err)

	assert.Equal(t, true, m["enabled"])
	assert.EqualValues(t, 5, m["severity"])
	assert.EqualValues(t, 42.5, m["temperature"])
	assert.Equal(t, "warehouse", m["location"])
	assert.Equal(t, []any{"urgent", "ops"}, m["tags"])
	assert.Equal(t, map[string]any{"deep": int64(1)}, m["nested"])
}

func TestMap_ZeraErrors(t *testing.T) {
	t.Run("root not map", func(t *testing.T) {
		_, err := Map(config.FormatZera, decodetest.Zera("scalar"))
		assert.ErrorIs(t, err, ErrNotMap)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, err := Map(config.FormatZera, []byte{0xee})
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		payload := decodetest.Zera(map[string]any{"severity": int64(5)})
		_, err := Map(config.FormatZera, payload[:len(payload)-2])
		assert.Error(t, err)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		payload := append(decodetest.Zera(map[string]any{}), 0x00)
		_, err := Map(config.FormatZera, payload)
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Map(config.FormatZera, nil)
		assert.Error(t, err)
	})
}
