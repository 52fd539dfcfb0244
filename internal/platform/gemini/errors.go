package gemini

import "errors"

var (
	// ErrInvalidConfig is returned by NewGenerator for unusable settings.
	ErrInvalidConfig = errors.New("invalid gemini configuration")
	// ErrContentBlocked is returned when the prompt or output hit a safety filter.
	ErrContentBlocked = errors.New("content blocked by safety filters")
	// ErrNoImage is returned when the response carries no inline image.
	ErrNoImage = errors.New("response contains no image")
)
