package compose

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/melih/magicproxy/internal/core/domain"
)

var validate = validator.New()

// ValidateIntent checks the shape of an extracted intent: the three required
// fields must be present, the target must parse as an http(s) URL, and
// userData values must be flat scalars. Invalid intents never reach the
// host table.
func ValidateIntent(intent *domain.ProxyIntent) error {
	if err := validate.Struct(intent); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			var fields []string
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("missing required field(s): %v", fields)
		}
		return err
	}

	u, err := url.Parse(intent.Target)
	if err != nil {
		return fmt.Errorf("target %q is not a valid URL: %w", intent.Target, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target %q must be an http or https URL", intent.Target)
	}

	for key, value := range intent.UserData {
		switch value.(type) {
		case nil, string, int, int64, uint64, float32, float64:
		default:
			return fmt.Errorf("userData value for %q must be a string, number or null", key)
		}
	}
	return nil
}
