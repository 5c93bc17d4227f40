package engine

import (
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

// SaveSnapshot serializes a ledger export to CBOR at path. The write
// goes through a temp file and rename so a crash never leaves a
// truncated snapshot behind.
func SaveSnapshot(path string, exp *core.Export) error {
	data, err := cbor.Marshal(exp)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "commit snapshot")
	}
	return nil
}

// LoadSnapshot reads a CBOR snapshot back into an export.
func LoadSnapshot(path string) (*core.Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	var exp core.Export
	if err := cbor.Unmarshal(data, &exp); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &exp, nil
}
