package parsing

import (
	"encoding/base64"
	"fmt"

	"github.com/sunrisedotdev/sonar-sub000/saleapi"
)

// NitroAttestationDocument is the raw CBOR structure NSM produces
// inside the COSE_Sign1 payload of an attestation.
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// FormatPCR renders PCR bytes as a hex string.
func FormatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

// EncodeCertificateBundle converts a certificate chain to base64.
func EncodeCertificateBundle(bundle [][]byte) []string {
	result := make([]string, len(bundle))
	for i, cert := range bundle {
		result[i] = base64.StdEncoding.EncodeToString(cert)
	}
	return result
}

// ExtractPCRs maps the raw CBOR PCR registers into the structured form.
func ExtractPCRs(rawPCRs map[uint64][]byte) saleapi.PCRs {
	return saleapi.PCRs{
		ImageFileHash:   FormatPCR(rawPCRs[0]),
		KernelHash:      FormatPCR(rawPCRs[1]),
		ApplicationHash: FormatPCR(rawPCRs[2]),
		IAMRoleHash:     FormatPCR(rawPCRs[3]),
		InstanceIDHash:  FormatPCR(rawPCRs[4]),
		SigningCertHash: FormatPCR(rawPCRs[8]),
	}
}
