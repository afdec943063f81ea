package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSensitiveFilter_IsSensitive_BuiltIns(t *testing.T) {
	f := NewSensitiveFilter()
	assert.True(t, f.IsSensitive("password"))
	assert.True(t, f.IsSensitive("PASSWORD"))
	assert.True(t, f.IsSensitive("api_key"))
	assert.False(t, f.IsSensitive("product_id"))
}

func TestSensitiveFilter_AddRemove(t *testing.T) {
	f := NewSensitiveFilter()
	assert.False(t, f.IsSensitive("tax_id"))

	f.Add("tax_id")
	assert.True(t, f.IsSensitive("TAX_ID"))

	f.Remove("tax_id")
	assert.False(t, f.IsSensitive("tax_id"))
}

func TestSensitiveFilter_Mask_ShortString(t *testing.T) {
	f := NewSensitiveFilter()
	data := map[string]any{"password": "ab"}

	masked := f.Mask(data).(map[string]any)

	assert.Equal(t, "**", masked["password"])
}

func TestSensitiveFilter_Mask_LongStringKeepsEnds(t *testing.T) {
	f := NewSensitiveFilter()
	data := map[string]any{"token": "abcdefgh"}

	masked := f.Mask(data).(map[string]any)

	assert.Equal(t, "ab****gh", masked["token"])
}

func TestSensitiveFilter_Mask_NestedMap(t *testing.T) {
	f := NewSensitiveFilter()
	data := map[string]any{
		"card": map[string]any{
			"card_number": "4111111111111111",
			"brand":       "visa",
		},
	}

	masked := f.Mask(data).(map[string]any)
	card := masked["card"].(map[string]any)

	assert.Equal(t, "visa", card["brand"])
	assert.NotEqual(t, "4111111111111111", card["card_number"])
}

func TestSensitiveFilter_StripForLog_OmitsSensitiveKeys(t *testing.T) {
	f := NewSensitiveFilter()
	data := map[string]any{
		"username": "alice",
		"password": "hunter2",
	}

	stripped := f.StripForLog(data).(map[string]any)

	assert.Equal(t, "alice", stripped["username"])
	_, present := stripped["password"]
	assert.False(t, present)
}

func TestSensitiveFilter_Mask_SliceOfScalarsUntouched(t *testing.T) {
	f := NewSensitiveFilter()
	data := []any{"a", "b", 1}

	masked := f.Mask(data).([]any)

	assert.Equal(t, data, masked)
}
