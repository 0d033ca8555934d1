package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Callback request headers. SignatureHeader carries "t=<unix>,v1=<hex>"
// where v1 is the HMAC-SHA256 of "<t>.<delivery id>.<body>".
const (
	SignatureHeader  = "X-Fleetroute-Signature"
	DeliveryIDHeader = "X-Fleetroute-Delivery"
	EventTypeHeader  = "X-Fleetroute-Event"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrSignatureMalformed = errors.New("webhooks: malformed signature header")
	ErrSignatureMismatch  = errors.New("webhooks: signature mismatch")
	ErrSignatureExpired   = errors.New("webhooks: signature timestamp outside tolerance")
)

// Signature is a parsed SignatureHeader value.
type Signature struct {
	Timestamp time.Time
	MAC       []byte
}

func (s Signature) String() string {
	return "t=" + strconv.FormatInt(s.Timestamp.Unix(), 10) + ",v1=" + hex.EncodeToString(s.MAC)
}

func callbackMAC(secret string, ts int64, deliveryID string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write([]byte(deliveryID))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign stamps the delivery's payload at the given time. Binding the delivery
// id means a body replayed under another delivery fails verification.
func Sign(secret string, d Delivery, at time.Time) Signature {
	ts := at.Unix()
	return Signature{Timestamp: time.Unix(ts, 0), MAC: callbackMAC(secret, ts, d.ID, d.Payload)}
}

// ParseSignature reads a SignatureHeader value. Unknown keys are skipped.
func ParseSignature(header string) (Signature, error) {
	var sig Signature
	var haveT bool
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return Signature{}, ErrSignatureMalformed
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Signature{}, ErrSignatureMalformed
			}
			sig.Timestamp, haveT = time.Unix(ts, 0), true
		case "v1":
			mac, err := hex.DecodeString(v)
			if err != nil {
				return Signature{}, ErrSignatureMalformed
			}
			sig.MAC = mac
		}
	}
	if !haveT || len(sig.MAC) == 0 {
		return Signature{}, ErrSignatureMalformed
	}
	return sig, nil
}

// Verify checks a callback as a receiver would: header is the
// SignatureHeader value and deliveryID the DeliveryIDHeader value. A zero
// tolerance disables the timestamp check.
func Verify(secret, deliveryID string, body []byte, header string, now time.Time, tolerance time.Duration) error {
	sig, err := ParseSignature(header)
	if err != nil {
		return err
	}
	if !hmac.Equal(sig.MAC, callbackMAC(secret, sig.Timestamp.Unix(), deliveryID, body)) {
		return ErrSignatureMismatch
	}
	if tolerance > 0 {
		skew := now.Sub(sig.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrSignatureExpired
		}
	}
	return nil
}
