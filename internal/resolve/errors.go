package resolve

import (
	"context"
	"errors"

	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/pkg/geocode"
)

// ProviderErrorKind maps a provider failure onto the candidate error taxonomy.
func ProviderErrorKind(err error) model.ErrorKind {
	switch {
	case errors.Is(err, geocode.ErrAuth):
		return model.ErrorProviderAuth
	case errors.Is(err, geocode.ErrNoResults):
		return model.ErrorProviderNoResults
	case errors.Is(err, geocode.ErrParse):
		return model.ErrorProviderParse
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorProviderTimeout
	default:
		return model.ErrorProviderUnavailable
	}
}
