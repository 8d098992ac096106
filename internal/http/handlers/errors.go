package handlers

// Codes carried by ErrorResponse.Code. Clients branch on these, not on the
// message text.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
)

// User-facing texts of the inscription contract.
const (
	MsgSubmitted   = "Inscription réussie!"
	MsgInvalidJSON = "Requête JSON invalide"
)
