//go:build property
// +build property

package filter

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMaskingIdempotent verifies InputCheck(InputCheck(s)) is a fixed
// point: masks never contain material the mask table matches.
func TestMaskingIdempotent(t *testing.T) {
	f, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("masking is idempotent", prop.ForAll(
		func(s string) bool {
			once := f.InputCheck(s)
			if once.Status != StatusOK {
				return true // configured blocks cannot occur with a nil config
			}
			twice := f.InputCheck(once.MaskedInput)
			return twice.Status == StatusOK && twice.MaskedInput == once.MaskedInput
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestCleanStringsPassUnchanged verifies strings with no maskable
// content survive the sanitizer byte for byte.
func TestCleanStringsPassUnchanged(t *testing.T) {
	f, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("lowercase alpha strings are untouched", prop.ForAll(
		func(s string) bool {
			res := f.InputCheck(s)
			if res.Status != StatusOK {
				return true
			}
			for _, sp := range sensitivePatterns {
				if sp.re.MatchString(s) {
					return true // maskable by construction, skip
				}
			}
			return res.MaskedInput == s
		},
		gen.AlphaLowerString(),
	))

	properties.TestingRun(t)
}
