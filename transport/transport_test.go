package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querysync/codec"
)

func TestParamsEncodeDropsEmpty(t *testing.T) {
	p := Params{"page": "2", "limit": "10", "status": "", "search": "printer jam"}
	assert.Equal(t, "limit=10&page=2&search=printer+jam", p.Encode())
	assert.Empty(t, Params{}.Encode())
}

func TestLineage(t *testing.T) {
	assert.Equal(t, []string{"tickets/t1/notes", "tickets/t1", "tickets"}, Lineage("/tickets/t1/notes"))
	assert.Equal(t, []string{"tickets"}, Lineage("tickets"))
	assert.Nil(t, Lineage("/"))
}

func TestEncodeDecode(t *testing.T) {
	type update struct {
		Status string `json:"status"`
	}
	for _, f := range []codec.Format{codec.FormatJSON, codec.FormatCBOR, codec.FormatMsgpack} {
		p, err := Encode(f, update{Status: "resolved"})
		require.NoError(t, err)
		assert.Equal(t, f.ContentType(), p.ContentType)

		got, err := Decode[update](Response{Status: 200, ContentType: p.ContentType, Body: p.Body})
		require.NoError(t, err, "format %s", f)
		assert.Equal(t, "resolved", got.Status)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode[map[string]any](Response{ContentType: "text/html", Body: []byte("<html>")})
	assert.True(t, errors.Is(err, ErrDecode))

	_, err = Decode[map[string]any](Response{ContentType: "application/json", Body: []byte("{")})
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestOpMethod(t *testing.T) {
	assert.Equal(t, "POST", OpCreate.Method())
	assert.Equal(t, "PATCH", OpUpdate.Method())
	assert.Equal(t, "DELETE", OpDelete.Method())
	assert.Equal(t, "delete", OpDelete.String())
}
