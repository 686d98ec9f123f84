package errcode

// Machine readable codes returned in the "code" field of failed responses.
const (
	Unknown          = "unknown"
	Unauthorized     = "unauthorized"
	Forbidden        = "forbidden"
	NotFound         = "not_found"
	Invalid          = "invalid"
	Conflict         = "conflict"
	TooMany          = "too_many"
	Internal         = "internal"
	MissingFile      = "missing_file"
	InvalidExtension = "invalid_extension"
	FileTooLarge     = "file_too_large"
	UploadFailed     = "upload_failed"
)
