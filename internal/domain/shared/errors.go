package shared

import (
	"errors"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Базовые виды ошибок
// ═══════════════════════════════════════════════════════════════════════════

// Виды ошибок. Конкретные ошибки домена ссылаются на них через Kind,
// поэтому errors.Is(err, ErrNotFound) работает для любой из них.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	ErrInvalidState           = errors.New("invalid state")
	ErrStateTransition        = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// validationKinds и externalKinds группируют виды для HTTP-слоя.
var (
	validationKinds = []error{
		ErrValidation, ErrInvalidID, ErrInvalidInput, ErrEmptyValue,
		ErrNegativeValue, ErrValueOutOfRange, ErrInvalidFormat,
	}
	externalKinds = []error{
		ErrExternalService, ErrServiceUnavailable, ErrTimeout, ErrRateLimited,
	}
)

// ═══════════════════════════════════════════════════════════════════════════
// DomainError
// ═══════════════════════════════════════════════════════════════════════════

// DomainError несёт место возникновения (Domain.Op), вид и причину.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Domain)
	b.WriteByte('.')
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap отдаёт причину, а без неё вид ошибки.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is совпадает и с видом, и с любой ошибкой в цепочке причины.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError создаёт ошибку без причины.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError оборачивает err контекстом домена.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	e := NewDomainError(domain, op, kind, message)
	e.Err = err
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Ошибки таблицы рангов
// ═══════════════════════════════════════════════════════════════════════════

var (
	ErrRankNotFound     = NewDomainError("rank", "Find", ErrNotFound, "rank not found")
	ErrEmptyRankTable   = NewDomainError("rank", "Validate", ErrEmptyValue, "rank table has no ranks")
	ErrDuplicateRank    = NewDomainError("rank", "Validate", ErrAlreadyExists, "duplicate rank id or order")
	ErrInvalidRankTable = NewDomainError("rank", "Validate", ErrInvalidInput, "invalid rank table")
)

// ═══════════════════════════════════════════════════════════════════════════
// Ошибки прогрессии
// ═══════════════════════════════════════════════════════════════════════════

var (
	ErrInvalidLevelCurve   = NewDomainError("progression", "AddXP", ErrInvalidState, "level curve produced a non-positive threshold")
	ErrCascadeLimit        = NewDomainError("progression", "AddXP", ErrValueOutOfRange, "level-up cascade exceeded the step limit")
	ErrInvalidMultiplier   = NewDomainError("progression", "AddMultiplierSource", ErrInvalidInput, "invalid multiplier source")
	ErrReservedMultiplier  = NewDomainError("progression", "AddMultiplierSource", ErrInvalidInput, "multiplier source type is computed by the engine")
	ErrNegativeCoins       = NewDomainError("progression", "AddMLCoins", ErrNegativeValue, "ML coins amount cannot be negative")
	ErrInvalidUserID       = NewDomainError("progression", "Validate", ErrInvalidID, "invalid user ID")
	ErrUnsupportedDocument = NewDomainError("progression", "Decode", ErrInvalidFormat, "unsupported progression document version")
	ErrStaleFetch          = NewDomainError("progression", "FetchUserProgress", ErrConcurrentModification, "fetch result superseded by a newer state")
	ErrPrestigeRejected    = NewDomainError("progression", "Prestige", ErrStateTransition, "prestige was not confirmed")
)

// ═══════════════════════════════════════════════════════════════════════════
// Ошибки внешнего API рангов
// ═══════════════════════════════════════════════════════════════════════════

var (
	ErrRankAPIUnavailable     = NewDomainError("rankapi", "Request", ErrServiceUnavailable, "rank API is unavailable")
	ErrRankAPIRateLimited     = NewDomainError("rankapi", "Request", ErrRateLimited, "rank API rate limit exceeded")
	ErrRankAPITimeout         = NewDomainError("rankapi", "Request", ErrTimeout, "rank API request timeout")
	ErrRankAPIInvalidResponse = NewDomainError("rankapi", "Parse", ErrInvalidFormat, "invalid response from rank API")
)

// ═══════════════════════════════════════════════════════════════════════════
// Классификация
// ═══════════════════════════════════════════════════════════════════════════

// IsNotFound сообщает, что сущность отсутствует.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation сообщает об ошибке входных данных.
func IsValidation(err error) bool { return isAny(err, validationKinds) }

// IsExternalService сообщает о сбое внешней зависимости.
func IsExternalService(err error) bool { return isAny(err, externalKinds) }

func isAny(err error, kinds []error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
