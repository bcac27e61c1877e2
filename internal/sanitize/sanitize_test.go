package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextStripsMarkup(t *testing.T) {
	assert.Equal(t, "", Text("<script>alert(1)</script>"))
	assert.Equal(t, "bold", Text("<b>bold</b>"))
	assert.Equal(t, "plain text", Text("plain text"))
}

func TestTextPtrNilPassesThrough(t *testing.T) {
	assert.Nil(t, TextPtr(nil))

	in := "<i>hi</i>"
	out := TextPtr(&in)
	assert.Equal(t, "hi", *out)
}

func TestClientDataSanitizesNestedValues(t *testing.T) {
	in := map[string]interface{}{
		"note": "<script>bad()</script>",
		"nested": map[string]interface{}{
			"label": "<b>x</b>",
		},
		"tags":  []interface{}{"<i>a</i>", "b"},
		"count": 3,
	}

	out := ClientData(in)
	assert.Equal(t, "", out["note"])
	assert.Equal(t, "x", out["nested"].(map[string]interface{})["label"])
	assert.Equal(t, []interface{}{"a", "b"}, out["tags"])
	assert.Equal(t, 3, out["count"])
}

func TestClientDataNilIsNil(t *testing.T) {
	assert.Nil(t, ClientData(nil))
}

func TestContentSanitizesStringsOnly(t *testing.T) {
	assert.Equal(t, "hi", Content("<b>hi</b>"))
	assert.Equal(t, 42.0, Content(42.0))
}
