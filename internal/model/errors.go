package model

import "github.com/rotisserie/eris"

// ErrorKind classifies why a source produced no coordinate.
type ErrorKind string

const (
	ErrorInput               ErrorKind = "input"
	ErrorProviderTimeout     ErrorKind = "provider_timeout"
	ErrorProviderAuth        ErrorKind = "provider_auth"
	ErrorProviderNoResults   ErrorKind = "provider_no_results"
	ErrorProviderParse       ErrorKind = "provider_parse"
	ErrorProviderUnavailable ErrorKind = "provider_unavailable"
	ErrorCacheUnavailable    ErrorKind = "cache_unavailable"
	ErrorRegistryUnavailable ErrorKind = "registry_unavailable"
	ErrorNotFound            ErrorKind = "not_found"
)

// ErrEmptyQuery is the input error returned for empty or whitespace-only queries.
var ErrEmptyQuery = eris.New("empty location query")
