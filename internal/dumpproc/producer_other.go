//go:build !windows

package dumpproc

import (
	"errors"

	"github.com/charmbracelet/log"
)

// ErrUnsupported reports that live-process capture needs Windows.
var ErrUnsupported = errors.New("live process capture is only supported on windows")

// Producer is a placeholder on non-Windows builds. Already-written
// dump files can still be analyzed; only capture is unavailable.
type Producer struct {
	log *log.Logger
}

// New returns a producer whose operations report ErrUnsupported.
func New(logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.Default()
	}
	return &Producer{log: logger}
}

// Attach always fails: there is no process to open here.
func (p *Producer) Attach(pid uint32) error {
	return ErrUnsupported
}

// Dump always fails: nothing was attached.
func (p *Producer) Dump(path string) (int, error) {
	return 0, ErrUnsupported
}

// Close is a no-op without an attachment.
func (p *Producer) Close() error {
	return nil
}
