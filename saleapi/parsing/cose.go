package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ExtractCOSEPayload pulls the payload out of a COSE_Sign1 document
// without verifying the signature. COSE_Sign1 is the 4-element array
// [protected, unprotected, payload, signature]; the payload is element
// 2. Used to read proof and attestation contents before (or instead
// of) cryptographic verification.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}

	return payload, nil
}
