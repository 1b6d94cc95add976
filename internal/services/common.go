package services

import (
	"strings"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/validator"
)

// sharedValidator is built once; validator.New registers the billing rules
// and is safe for concurrent use.
var sharedValidator = validator.New()

func normalizeCurrency(code string) string {
	return strings.ToUpper(code)
}

// mapGatewayError converts an adapter error into the API taxonomy.
func mapGatewayError(err error) error {
	gwErr, ok := err.(*gateways.GatewayError)
	if !ok {
		return appErrors.InternalError(err)
	}

	switch gwErr.Kind {
	case gateways.ErrorDeclined:
		return appErrors.ErrGatewayDeclined.WithError(err)
	case gateways.ErrorNetwork:
		return appErrors.ErrGatewayNetwork.WithError(err)
	default:
		return appErrors.ErrGatewayInvalidRequest.WithError(err)
	}
}
