package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMarshalKeepsHTML(t *testing.T) {
	out, err := JSON.Marshal(map[string]string{"a": "<b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<b>"}`, string(out))
}

func TestJSONUnmarshalRejectsTrailingContent(t *testing.T) {
	var v map[string]any
	require.Error(t, JSON.Unmarshal([]byte(`{"a":1} {"b":2}`), &v))
}

func TestJSONToleratesUnknownFields(t *testing.T) {
	var v struct {
		A int `json:"a"`
	}
	require.NoError(t, JSON.Unmarshal([]byte(`{"a":1,"b":2}`), &v))
	assert.Equal(t, 1, v.A)
}
