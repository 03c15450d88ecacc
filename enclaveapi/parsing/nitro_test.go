package parsing

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	enclaveapi "github.com/cloudx-io/sealedsettle/enclaveapi"
)

func buildCOSE(t *testing.T, doc NitroAttestationDocument) []byte {
	t.Helper()
	payload, err := cbor.Marshal(doc)
	assert.NoError(t, err)
	raw, err := cbor.Marshal([]any{[]byte{0xa1}, map[string]any{}, payload, []byte{0x01, 0x02}})
	assert.NoError(t, err)
	return raw
}

func TestParseAttestationDoc(t *testing.T) {
	userData, err := json.Marshal(map[string]string{"request_id": "abc"})
	assert.NoError(t, err)

	raw := buildCOSE(t, NitroAttestationDocument{
		ModuleID:    "i-0123-enc0456",
		Digest:      "SHA384",
		Timestamp:   1700000000123,
		PCRs:        map[uint64][]byte{0: {0xaa, 0xbb}, 1: {0x01}, 2: {0x02}, 8: {0x08}},
		Certificate: []byte{0x30, 0x01},
		CABundle:    [][]byte{{0x30, 0x02}},
		PublicKey:   []byte("pk"),
		UserData:    userData,
		Nonce:       []byte("nonce-1"),
	})

	doc, gotUserData, err := ParseAttestationDoc(enclaveapi.AttestationCOSE(raw))
	assert.NoError(t, err)
	check.Equal(t, "i-0123-enc0456", doc.ModuleID)
	check.Equal(t, "SHA384", doc.DigestAlgorithm)
	check.Equal(t, int64(1700000000123), doc.Timestamp.UnixMilli())
	check.Equal(t, "aabb", doc.PCRs.ImageFileHash)
	check.Equal(t, "08", doc.PCRs.SigningCertHash)
	check.Equal(t, "", doc.PCRs.IAMRoleHash)
	check.Equal(t, "MAE=", doc.Certificate)
	check.Equal(t, []string{"MAI="}, doc.CABundle)
	check.Equal(t, "nonce-1", doc.Nonce)
	check.Equal(t, userData, gotUserData)
}

func TestDecodeCOSESign1_Errors(t *testing.T) {
	threeElems, err := cbor.Marshal([]any{[]byte{1}, map[string]any{}, []byte{2}})
	assert.NoError(t, err)
	_, err = DecodeCOSESign1(threeElems)
	check.Error(t, err)

	badPayload, err := cbor.Marshal([]any{[]byte{1}, map[string]any{}, "text", []byte{2}})
	assert.NoError(t, err)
	_, err = ExtractCOSEPayload(badPayload)
	check.Error(t, err)

	_, err = DecodeCOSESign1([]byte{0xff, 0x00})
	check.Error(t, err)
}
