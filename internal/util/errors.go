package util

import (
	"errors"
	"fmt"
)

var (
	ErrAdmission       = errors.New("admission rejected")
	ErrQuotaExceeded   = fmt.Errorf("%w: quota exceeded", ErrAdmission)
	ErrUnsupportedType = fmt.Errorf("%w: unsupported document type", ErrAdmission)
	ErrFileTooLarge    = fmt.Errorf("%w: file too large", ErrAdmission)
	ErrEmptyUpload     = fmt.Errorf("%w: empty upload", ErrAdmission)
	ErrInvalidInput    = fmt.Errorf("%w: invalid input", ErrAdmission)

	ErrExtraction        = errors.New("text extraction failed")
	ErrNoExtractableText = fmt.Errorf("%w: no extractable text", ErrExtraction)

	ErrProvider     = errors.New("provider error")
	ErrNoCredential = fmt.Errorf("%w: no active API key configured", ErrProvider)

	ErrCapabilityUnavailable = errors.New("vector search unavailable")
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrNoChunks              = errors.New("no chunks generated from document")
)

// AdmissionError carries the user-facing reason a resource was refused.
// Kind defaults to ErrQuotaExceeded.
type AdmissionError struct {
	Resource string
	Reason   string
	Kind     error
}

func (e *AdmissionError) Error() string {
	return e.Reason
}

func (e *AdmissionError) Is(target error) bool {
	kind := e.Kind
	if kind == nil {
		kind = ErrQuotaExceeded
	}
	return target == ErrAdmission || target == kind
}
