package validation

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// phoneRegex matches E.164: a plus sign, then 7 to 15 digits.
var phoneRegex = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// RegisterBindings installs the custom binding tags on gin's validator so
// request structs can declare them: phone, latitude, longitude.
func RegisterBindings() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	_ = v.RegisterValidation("phone", validatePhone)
	_ = v.RegisterValidation("latitude", validateLatitude)
	_ = v.RegisterValidation("longitude", validateLongitude)
}

func validatePhone(fl validator.FieldLevel) bool {
	return IsPhone(fl.Field().String())
}

func validateLatitude(fl validator.FieldLevel) bool {
	lat := fl.Field().Float()
	return lat >= -90.0 && lat <= 90.0
}

func validateLongitude(fl validator.FieldLevel) bool {
	lng := fl.Field().Float()
	return lng >= -180.0 && lng <= 180.0
}

// IsPhone reports whether the number is in E.164 format.
func IsPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// ValidCoordinates reports whether the pair is a usable position.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90.0 && lat <= 90.0 && lng >= -180.0 && lng <= 180.0
}
