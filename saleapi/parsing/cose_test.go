package parsing

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestExtractCOSEPayload(t *testing.T) {
	payload := []byte("settlement payload")
	doc, err := cbor.Marshal([]any{[]byte{0xa0}, map[any]any{}, payload, []byte("sig")})
	assert.Nil(t, err)

	got, err := ExtractCOSEPayload(doc)
	assert.Nil(t, err)
	check.Equal(t, payload, got)
}

func TestExtractCOSEPayload_Rejects(t *testing.T) {
	threeElems, err := cbor.Marshal([]any{[]byte{}, map[any]any{}, []byte("p")})
	assert.Nil(t, err)
	_, err = ExtractCOSEPayload(threeElems)
	check.Error(t, err)

	stringPayload, err := cbor.Marshal([]any{[]byte{}, map[any]any{}, "not-bytes", []byte("sig")})
	assert.Nil(t, err)
	_, err = ExtractCOSEPayload(stringPayload)
	check.Error(t, err)

	_, err = ExtractCOSEPayload([]byte{0xff, 0x00})
	check.Error(t, err)
}

func TestExtractPCRs(t *testing.T) {
	raw := map[uint64][]byte{
		0: {0x01, 0x02},
		1: {0x03},
		2: {0x04},
	}
	pcrs := ExtractPCRs(raw)
	check.Equal(t, "0102", pcrs.ImageFileHash)
	check.Equal(t, "03", pcrs.KernelHash)
	check.Equal(t, "04", pcrs.ApplicationHash)
	check.Equal(t, "", pcrs.SigningCertHash)
}
