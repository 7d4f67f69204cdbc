package calls

import "crm-calls/pkg/apperr"

// Error codes returned to clients.
const (
	CodeMissingDestination   = "MISSING_DESTINATION"
	CodeMissingLeadID        = "MISSING_LEAD_ID"
	CodeInvalidLeadIDFormat  = "INVALID_LEAD_ID_FORMAT"
	CodeLeadNotFound         = "LEAD_NOT_FOUND"
	CodeInvalidPhoneNumber   = "INVALID_PHONE_NUMBER"
	CodeTooManyCalls         = "TOO_MANY_CALLS"
	CodeCallInitiationFailed = "CALL_INITIATION_FAILED"
	CodeMissingCallID        = "MISSING_CALL_ID"
	CodeCallNotFound         = "CALL_NOT_FOUND"
)

func errMissingDestination() *apperr.Error {
	return apperr.Validation("phoneNumber is required").WithCode(CodeMissingDestination)
}

func errMissingLeadID() *apperr.Error {
	return apperr.Validation("No lead ID provided").WithCode(CodeMissingLeadID)
}

func errInvalidLeadID() *apperr.Error {
	return apperr.Validation("Invalid lead ID format").WithCode(CodeInvalidLeadIDFormat)
}

func errLeadNotFound() *apperr.Error {
	return apperr.NotFound("Lead not found").WithCode(CodeLeadNotFound)
}

func errInvalidPhone() *apperr.Error {
	return apperr.Validation("Invalid phone number format. Use E.164 format (e.g., +1234567890)").WithCode(CodeInvalidPhoneNumber)
}

func errTooManyCalls() *apperr.Error {
	return apperr.New(apperr.KindTooManyRequests, "Too many calls in progress").WithCode(CodeTooManyCalls)
}

func errMissingCallID() *apperr.Error {
	return apperr.Validation("Missing call ID").WithCode(CodeMissingCallID)
}

// errCallNotFound keeps the wording webhook senders already handle.
func errCallNotFound() *apperr.Error {
	return apperr.NotFound("Lead not found").WithCode(CodeCallNotFound)
}
