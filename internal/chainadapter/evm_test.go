package chainadapter

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestIsTransientSubmitError(t *testing.T) {
	cases := []struct {
		msg       string
		transient bool
	}{
		{"replacement transaction underpriced", true},
		{"nonce too low", true},
		{"nonce too high", true},
		{"insufficient funds for gas * price + value", true},
		{"dial tcp: i/o timeout", true},
		{"connection refused", true},
		{"execution reverted: InvalidSecret", false},
		{"invalid timelock", false},
	}

	for _, c := range cases {
		got := isTransientSubmitError(errors.New(c.msg))
		if got != c.transient {
			t.Errorf("isTransientSubmitError(%q) = %v, want %v", c.msg, got, c.transient)
		}
	}
}

func TestIsNativeToken(t *testing.T) {
	if !isNativeToken("") {
		t.Error("empty token should be native")
	}
	if !isNativeToken((common.Address{}).Hex()) {
		t.Error("zero address should be native")
	}
	if isNativeToken(common.HexToAddress("0x1111111111111111111111111111111111111111").Hex()) {
		t.Error("non-zero address should not be native")
	}
}
