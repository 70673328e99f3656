package pupcart_test

import (
	"testing"

	"github.com/getpup/pupcart/pkg"
)

func TestVersion(t *testing.T) {
	version := pupcart.Version()
	if version == "" {
		t.Error("Version() should return a non-empty string")
	}
}
