package validator

import (
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"skylearn_backend/internal/models"
)

// recognizedCurrencies is the set of ISO-4217 codes billing accepts.
// Extend here when the gateway adds settlement currencies.
var recognizedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "AUD": true,
	"JPY": true, "CHF": true, "SEK": true, "NOK": true, "DKK": true,
	"NZD": true, "BRL": true, "MXN": true, "INR": true, "SGD": true,
}

// IsRecognizedCurrency reports whether code is an accepted 3-letter
// ISO currency code. Comparison is case-insensitive.
func IsRecognizedCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	return recognizedCurrencies[strings.ToUpper(code)]
}

func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			// A rule that fails to register is a startup-time defect.
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	mustRegister("currency", validateCurrency)
	mustRegister("is-interval", validateInterval)
	mustRegister("is-transaction-status", validateTransactionStatus)
}

func validateCurrency(fl validator.FieldLevel) bool {
	return IsRecognizedCurrency(fl.Field().String())
}

func validateInterval(fl validator.FieldLevel) bool {
	switch models.BillingInterval(fl.Field().String()) {
	case models.IntervalMonthly, models.IntervalYearly:
		return true
	}
	return false
}

func validateTransactionStatus(fl validator.FieldLevel) bool {
	switch models.TransactionStatus(fl.Field().String()) {
	case models.TransactionStatusPending, models.TransactionStatusCompleted,
		models.TransactionStatusFailed, models.TransactionStatusRefunded:
		return true
	}
	return false
}
