package commands

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cfx-go/cfxcore/types"
)

// parseHash parses a hex encoded hash with or without the 0x prefix.
func parseHash(s string) (types.Hash, error) {
	bz, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return types.Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(bz) != types.HashLength {
		return types.Hash{}, fmt.Errorf("invalid hash %q: expected %d bytes, got %d", s, types.HashLength, len(bz))
	}
	return types.BytesToHash(bz), nil
}

func parseEpoch(s string) (uint64, error) {
	epoch, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid epoch number %q: %w", s, err)
	}
	return epoch, nil
}

func printJSON(w io.Writer, v interface{}) error {
	bz, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(bz))
	return err
}
