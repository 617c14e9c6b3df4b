package crdt

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// storageSentinel marks a text column value as hex-encoded binary data, so
// readers can tell an encoded payload apart from a plain string in the same
// storage family.
const storageSentinel = `\x`

// ToStorageFormat hex-encodes raw bytes for a text-oriented storage column.
func ToStorageFormat(raw []byte) string {
	return storageSentinel + hex.EncodeToString(raw)
}

// FromStorageFormat inverts ToStorageFormat exactly. Text without the sentinel
// prefix or with invalid hex digits fails with ErrCorruptState.
func FromStorageFormat(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, storageSentinel) {
		return nil, fmt.Errorf("%w: missing storage sentinel", ErrCorruptState)
	}
	raw, err := hex.DecodeString(stored[len(storageSentinel):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return raw, nil
}

// DecodeStored is the read-path composition: storage text to state.
func DecodeStored(stored string) (State, error) {
	raw, err := FromStorageFormat(stored)
	if err != nil {
		return State{}, err
	}
	return Decode(raw)
}

// EncodeStored is the write-path composition: state to storage text.
func EncodeStored(state State) (string, error) {
	raw, err := Encode(state)
	if err != nil {
		return "", err
	}
	return ToStorageFormat(raw), nil
}
