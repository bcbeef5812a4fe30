package speech

import "errors"

var (
	ErrEmptyAudio      = errors.New("empty audio payload")
	ErrNoTranslation   = errors.New("model returned no translation")
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrMalformedResult = errors.New("malformed model response")
)
