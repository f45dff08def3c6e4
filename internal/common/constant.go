package common

const (
	// ConfigSuffix is appended to every config name that does not carry it.
	ConfigSuffix = ".cfg"

	// MaxUploadBytes caps a single upload before any validation runs.
	MaxUploadBytes = 30000

	// MaxLineLength is the longest accepted config line, in bytes.
	MaxLineLength = 128

	// MaxConfigChars caps the aggregate validated content of a config.
	MaxConfigChars = 5000

	// AuthorizationHeaderName carries the optional owner bearer token.
	AuthorizationHeaderName = "Authorization"

	// RequestIDHeaderName is echoed on every HTTP response.
	RequestIDHeaderName = "X-Request-ID"
)
