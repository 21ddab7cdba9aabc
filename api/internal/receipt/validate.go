package receipt

import "strings"

const imagePrefix = "data:image/"

// AllowedImagePrefixes are the data-URI heads accepted by Validate.
var AllowedImagePrefixes = []string{
	"data:image/png",
	"data:image/jpeg",
	"data:image/jpg",
	"data:image/gif",
	"data:image/webp",
}

// Validate checks field presence first, then the data-URI prefix, then the subtype allow-list.
func Validate(req AnalysisRequest) error {
	if req.APIKey == "" || req.ImageBase64 == "" {
		return ErrMissingFields
	}
	if !strings.HasPrefix(req.ImageBase64, imagePrefix) {
		return ErrInvalidImageFormat
	}
	for _, p := range AllowedImagePrefixes {
		if strings.HasPrefix(req.ImageBase64, p) {
			return nil
		}
	}
	return ErrUnsupportedImageFormat
}
