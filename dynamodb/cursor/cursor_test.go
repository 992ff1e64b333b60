package cursor

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	keys := map[string]types.AttributeValue{
		"pk":     &types.AttributeValueMemberS{Value: "$store#sector_a1"},
		"sk":     &types.AttributeValueMemberS{Value: "$order_1#id_x1"},
		"gsi2sk": &types.AttributeValueMemberN{Value: "12.5"},
		"bin":    &types.AttributeValueMemberB{Value: []byte{0, 1, 2, 255}},
	}
	tok, err := Encode(keys)
	require.NoError(t, err)
	assert.NotContains(t, tok, "=")
	assert.NotContains(t, tok, "+")
	assert.NotContains(t, tok, "/")

	back, err := Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, keys, back)

	again, err := Encode(back)
	require.NoError(t, err)
	assert.Equal(t, tok, again, "encoding must be deterministic")
}

func TestEmpty(t *testing.T) {
	tok, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "", tok)

	keys, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, keys)
}

func TestEncode_UnsupportedType(t *testing.T) {
	_, err := Encode(map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberBOOL{Value: true},
	})
	require.Error(t, err)
}

func TestDecode_Errors(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	tests := map[string]string{
		"not base64":       "***",
		"not json":         enc("nope"),
		"wrong version":    enc(`{"v":2,"k":[["pk","S","a"]]}`),
		"no fields":        enc(`{"v":1,"k":[]}`),
		"unknown type":     enc(`{"v":1,"k":[["pk","BOOL","true"]]}`),
		"bad number":       enc(`{"v":1,"k":[["pk","N","abc"]]}`),
		"duplicate field":  enc(`{"v":1,"k":[["pk","S","a"],["pk","S","b"]]}`),
		"empty field name": enc(`{"v":1,"k":[["","S","a"]]}`),
		"bad bytes":        enc(`{"v":1,"k":[["pk","B","!!"]]}`),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			keys, err := Decode(tok)
			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "expected DecodeError, got %v", err)
			assert.Nil(t, keys)
		})
	}
}
