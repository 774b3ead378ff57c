//go:build !windows

package dumpproc

import (
	"errors"
	"testing"

	"cof/internal/search"
)

var _ search.Producer = (*Producer)(nil)

func TestUnsupportedPlatform(t *testing.T) {
	p := New(nil)
	if err := p.Attach(1234); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Attach err = %v, want ErrUnsupported", err)
	}
	if _, err := p.Dump("out.exe"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Dump err = %v, want ErrUnsupported", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close err = %v", err)
	}
}
