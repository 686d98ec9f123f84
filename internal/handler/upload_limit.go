package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// multipart framing and the other form fields on top of the file itself
const multipartOverhead = 1 << 20

var packageExtensions = map[string]struct{}{
	".apkg":   {},
	".colpkg": {},
}

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

func isPackageName(name string) bool {
	_, ok := packageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}
