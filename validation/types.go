package validation

// BaseValidationResult carries the checks shared by every attestation
// validation.
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// ProofValidationResult is the outcome of verifying a settlement proof
// against a ledger export.
type ProofValidationResult struct {
	SignatureValid    bool
	DigestsValid      bool
	TotalsValid       bool
	ConservationHeld  bool
	Attestation       *BaseValidationResult // nil when no NSM attestation was provided
	ValidationDetails []string
}

// IsValid reports whether every performed check passed. An absent
// attestation does not fail the proof; a present but invalid one does.
func (r *ProofValidationResult) IsValid() bool {
	if !r.SignatureValid || !r.DigestsValid || !r.TotalsValid || !r.ConservationHeld {
		return false
	}
	if r.Attestation != nil {
		return r.Attestation.PCRsValid && r.Attestation.CertificateValid && r.Attestation.SignatureValid
	}
	return true
}

// PCRSet is a known-good set of enclave measurements.
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // source commit the enclave image was built from
}

// PCRConfig is the on-disk PCR allowlist.
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
