package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Kind identifies a class of API failure. Kinds form a tree: every kind except
// KindAPI has a parent, and handlers registered for a parent also apply to its
// descendants.
type Kind string

const (
	KindAPI     Kind = "api"
	KindNetwork Kind = "network"
	KindTimeout Kind = "timeout"
	// KindCanceled marks a context cancellation. It is never retried.
	KindCanceled Kind = "canceled"
	KindDecode   Kind = "decode"

	KindStreamLimit      Kind = "stream_limit"
	KindMediaProcessing  Kind = "media_processing"
	KindNotModified      Kind = "not_modified"
	KindBadRequest       Kind = "bad_request"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindNotAcceptable    Kind = "not_acceptable"
	KindGone             Kind = "gone"
	KindUnsupportedMedia Kind = "unsupported_media_type"
	KindEnhanceYourCalm  Kind = "enhance_your_calm"
	KindUnprocessable    Kind = "unprocessable_entity"
	KindTooManyRequests  Kind = "too_many_requests"
	KindInternalServer   Kind = "internal_server_error"
	KindBadGateway       Kind = "bad_gateway"
	KindServiceUnavail   Kind = "service_unavailable"
	KindGatewayTimeout   Kind = "gateway_timeout"

	KindAuthentication     Kind = "authentication"
	KindNotAuthenticated   Kind = "not_authenticated"
	KindDoesNotExist       Kind = "does_not_exist"
	KindAccountSuspended   Kind = "account_suspended"
	KindMigrateToNewAPI    Kind = "migrate_to_new_api"
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindSSLRequired        Kind = "ssl_required"
	KindOverCapacity       Kind = "over_capacity"
	KindInternalError      Kind = "internal_error"
	KindCouldNotAuth       Kind = "could_not_authenticate"
	KindBlocked            Kind = "blocked"
	KindFollowLimit        Kind = "follow_limit"
	KindProtectedStatus    Kind = "protected_status"
	KindStatusLimit        Kind = "status_limit"
	KindDuplicatedStatus   Kind = "duplicated_status"
	KindBadAuthentication  Kind = "bad_authentication"
	KindAutomatedRequest   Kind = "automated_request"
	KindVerifyLogin        Kind = "verify_login"
	KindRetiredEndpoint    Kind = "retired_endpoint"
	KindReadOnlyApp        Kind = "read_only_application"
	KindCannotMuteYourself Kind = "cannot_mute_yourself"
	KindNotMutingUser      Kind = "not_muting_user"
	KindDMCharacterLimit   Kind = "dm_character_limit"
)

var parents = map[Kind]Kind{
	KindNetwork:          KindAPI,
	KindTimeout:          KindNetwork,
	KindCanceled:         KindAPI,
	KindDecode:           KindAPI,
	KindStreamLimit:      KindAPI,
	KindMediaProcessing:  KindAPI,
	KindNotModified:      KindAPI,
	KindBadRequest:       KindAPI,
	KindAuthentication:   KindAPI,
	KindUnauthorized:     KindAuthentication,
	KindForbidden:        KindAPI,
	KindNotFound:         KindAPI,
	KindNotAcceptable:    KindAPI,
	KindGone:             KindAPI,
	KindUnsupportedMedia: KindAPI,
	KindEnhanceYourCalm:  KindAPI,
	KindUnprocessable:    KindAPI,
	KindInternalServer:   KindAPI,
	KindBadGateway:       KindAPI,
	KindServiceUnavail:   KindAPI,
	KindGatewayTimeout:   KindAPI,

	KindRateLimitExceeded:  KindAPI,
	KindTooManyRequests:    KindRateLimitExceeded,
	KindNotAuthenticated:   KindAuthentication,
	KindCouldNotAuth:       KindAuthentication,
	KindBadAuthentication:  KindAuthentication,
	KindDoesNotExist:       KindNotFound,
	KindOverCapacity:       KindServiceUnavail,
	KindInternalError:      KindInternalServer,
	KindAccountSuspended:   KindForbidden,
	KindMigrateToNewAPI:    KindGone,
	KindSSLRequired:        KindForbidden,
	KindBlocked:            KindForbidden,
	KindFollowLimit:        KindForbidden,
	KindProtectedStatus:    KindForbidden,
	KindStatusLimit:        KindForbidden,
	KindDuplicatedStatus:   KindForbidden,
	KindAutomatedRequest:   KindForbidden,
	KindVerifyLogin:        KindForbidden,
	KindRetiredEndpoint:    KindGone,
	KindReadOnlyApp:        KindForbidden,
	KindCannotMuteYourself: KindForbidden,
	KindNotMutingUser:      KindForbidden,
	KindDMCharacterLimit:   KindForbidden,
}

var statusKinds = map[int]Kind{
	http.StatusNotModified:          KindNotModified,
	http.StatusBadRequest:           KindBadRequest,
	http.StatusUnauthorized:         KindUnauthorized,
	http.StatusForbidden:            KindForbidden,
	http.StatusNotFound:             KindNotFound,
	http.StatusNotAcceptable:        KindNotAcceptable,
	http.StatusGone:                 KindGone,
	http.StatusUnsupportedMediaType: KindUnsupportedMedia,
	420:                             KindEnhanceYourCalm,
	http.StatusUnprocessableEntity:  KindUnprocessable,
	http.StatusTooManyRequests:      KindTooManyRequests,
	http.StatusInternalServerError:  KindInternalServer,
	http.StatusBadGateway:           KindBadGateway,
	http.StatusServiceUnavailable:   KindServiceUnavail,
	http.StatusGatewayTimeout:       KindGatewayTimeout,
}

var apiCodeKinds = map[int]Kind{
	32:  KindNotAuthenticated,
	34:  KindDoesNotExist,
	64:  KindAccountSuspended,
	68:  KindMigrateToNewAPI,
	88:  KindRateLimitExceeded,
	92:  KindSSLRequired,
	130: KindOverCapacity,
	131: KindInternalError,
	135: KindCouldNotAuth,
	136: KindBlocked,
	161: KindFollowLimit,
	179: KindProtectedStatus,
	185: KindStatusLimit,
	187: KindDuplicatedStatus,
	215: KindBadAuthentication,
	226: KindAutomatedRequest,
	231: KindVerifyLogin,
	251: KindRetiredEndpoint,
	261: KindReadOnlyApp,
	271: KindCannotMuteYourself,
	272: KindNotMutingUser,
	354: KindDMCharacterLimit,
}

// RateLimitResetHeader carries the unix time at which a rate limit window resets.
const RateLimitResetHeader = "X-Rate-Limit-Reset"

// Parent returns the superclass of k, or "" for the root kind.
func Parent(k Kind) Kind {
	return parents[k]
}

// Is reports whether k equals target or descends from it.
func (k Kind) Is(target Kind) bool {
	for cur := k; cur != ""; cur = parents[cur] {
		if cur == target {
			return true
		}
	}
	return false
}

// Classify maps an HTTP status and an optional API error code to a kind.
// A known API code wins over the status; an apiCode of 0 means none was sent.
func Classify(status, apiCode int) Kind {
	if kind, ok := apiCodeKinds[apiCode]; ok {
		return kind
	}
	if kind, ok := statusKinds[status]; ok {
		return kind
	}
	return KindAPI
}

// Error is a classified API failure. Response details are kept when the error
// came from an HTTP response.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	APICode    int
	URL        string
	Header     http.Header
	// Data is the decoded response body, if it was JSON.
	Data any
	// Raw is the undecoded body.
	Raw []byte
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.APICode != 0:
		return fmt.Sprintf("%s error (status %d, code %d): %s", e.Kind, e.StatusCode, e.APICode, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, msg)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reset returns the rate limit reset time announced by the server, or the
// zero time if the header was absent.
func (e *Error) Reset() time.Time {
	if e.Header == nil {
		return time.Time{}
	}
	v, err := strconv.ParseInt(e.Header.Get(RateLimitResetHeader), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// ResetIn is the time left until Reset, never negative.
func (e *Error) ResetIn(now time.Time) time.Duration {
	reset := e.Reset()
	if reset.IsZero() {
		return 0
	}
	return max(reset.Sub(now), 0)
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewDecodeError reports a body that could not be decoded.
func NewDecodeError(raw []byte, cause error) *Error {
	return &Error{
		Kind:    KindDecode,
		Message: "could not decode response payload",
		Raw:     raw,
		Err:     cause,
	}
}

// NewProcessingError reports a media processing failure, keeping the server's
// message and the processing info it came with.
func NewProcessingError(message string, data any) *Error {
	return &Error{Kind: KindMediaProcessing, Message: message, Data: data}
}

// KindOf returns the kind carried by err. Unclassified errors are network
// errors, except context cancellation and deadlines.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return FromError(err).Kind
}

// IsKind reports whether err is classified as kind or one of its descendants.
func IsKind(err error, kind Kind) bool {
	k := KindOf(err)
	return k != "" && k.Is(kind)
}

// FromError classifies a transport-level failure. Errors that are already
// classified are returned unchanged.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
