package service

type ErrorCode string

const (
	ErrorCodeValidation      ErrorCode = "VALIDATION"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeAlreadyMember   ErrorCode = "ALREADY_MEMBER"
	ErrorCodePermission      ErrorCode = "PERMISSION_DENIED"
	ErrorCodeSelfRemoval     ErrorCode = "SELF_REMOVAL"
	ErrorCodePaymentProvider ErrorCode = "PAYMENT_PROVIDER"
	ErrorCodeSignature       ErrorCode = "INVALID_SIGNATURE"
	ErrorCodeMalformedEvent  ErrorCode = "MALFORMED_EVENT"
	ErrorCodePaymentPending  ErrorCode = "PAYMENT_PENDING"
	ErrorCodeInvalidBody     ErrorCode = "INVALID_BODY"
	ErrorCodeUnspecified     ErrorCode = "UNSPECIFIED"
)

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func (e *Error) Error() string {
	return e.Message
}
