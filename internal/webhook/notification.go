package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Notification types handled by the dispatcher
const (
	TypeAccountCredentialed = "account.credentialed"
	TypeTokenDeauthorized   = "token.deauthorized"
)

// ErrMalformedNotification is returned when a verified body cannot be decoded
var ErrMalformedNotification = errors.New("malformed webhook notification")

// Notification is one of AccountCredentialed, TokenDeauthorized or Other
type Notification interface {
	// NotificationType returns the wire "type" value
	NotificationType() string
	// NotificationID returns the provider's event id, which may be empty
	NotificationID() string
}

// AccountCredentialed reports that Checkr finished credentialing an account
type AccountCredentialed struct {
	ID              string
	AccountID       string
	CheckrAccountID string
}

func (AccountCredentialed) NotificationType() string { return TypeAccountCredentialed }

func (n AccountCredentialed) NotificationID() string { return n.ID }

// TokenDeauthorized reports that an access token was revoked.
// AccountID is the sender's account and must not be used for matching.
type TokenDeauthorized struct {
	ID         string
	AccountID  string
	AccessCode string
}

func (TokenDeauthorized) NotificationType() string { return TypeTokenDeauthorized }

func (n TokenDeauthorized) NotificationID() string { return n.ID }

// Other is any notification type without a handler
type Other struct {
	ID        string
	Type      string
	AccountID string
}

func (n Other) NotificationType() string { return n.Type }

func (n Other) NotificationID() string { return n.ID }

// Decode parses a verified notification body into its tagged variant
func Decode(raw []byte) (Notification, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedNotification)
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: body must be an object", ErrMalformedNotification)
	}

	typ := strings.TrimSpace(root.Get("type").String())
	if typ == "" {
		return nil, fmt.Errorf("%w: type is required", ErrMalformedNotification)
	}

	id := root.Get("id").String()
	accountID := root.Get("account_id").String()

	switch typ {
	case TypeAccountCredentialed:
		checkrAccountID := strings.TrimSpace(root.Get("data.object.id").String())
		if checkrAccountID == "" {
			checkrAccountID = strings.TrimSpace(accountID)
		}
		if checkrAccountID == "" {
			return nil, fmt.Errorf("%w: %s requires an account id", ErrMalformedNotification, typ)
		}
		return AccountCredentialed{
			ID:              id,
			AccountID:       accountID,
			CheckrAccountID: checkrAccountID,
		}, nil

	case TypeTokenDeauthorized:
		// A missing access code matches no record and is acknowledged as a no-op
		accessCode := root.Get("data.object.access_code").String()
		return TokenDeauthorized{
			ID:         id,
			AccountID:  accountID,
			AccessCode: accessCode,
		}, nil

	default:
		return Other{ID: id, Type: typ, AccountID: accountID}, nil
	}
}
