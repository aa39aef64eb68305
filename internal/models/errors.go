package models

import "errors"

// Error taxonomy shared by every pipeline stage. Callers match with errors.Is.
var (
	// ErrInput marks bad caller input: missing files, unsupported formats, invalid sizes.
	ErrInput = errors.New("invalid input")
	// ErrService marks a transport or service failure that survived all retries.
	ErrService = errors.New("service failure")
	// ErrEmptyResult marks a retrieval that produced nothing to work with.
	ErrEmptyResult = errors.New("empty result")
	// ErrMalformedResponse marks structured output that could not be parsed, even after cleanup.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrValidation marks a question record that violates the schema or content rules.
	ErrValidation = errors.New("validation failed")
)

var (
	ErrEmptyInput       = wrapKind(ErrInput, "text cannot be empty")
	ErrShapeMismatch    = wrapKind(ErrInput, "documents and embeddings must have the same length")
	ErrEmbeddingService = wrapKind(ErrService, "embedding service error")
	ErrGeneration       = wrapKind(ErrService, "generation error")
	ErrNoContext        = wrapKind(ErrEmptyResult, "no context found")
)

type kindError struct {
	kind error
	msg  string
}

func wrapKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }
