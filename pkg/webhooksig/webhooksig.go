// Package webhooksig verifies HMAC-SHA256 signatures over timestamped
// webhook payloads in the "t=<unix>,v1=<hex>" header format.
//
// Verification must run on the raw request body: re-encoding the JSON changes
// the bytes and breaks the signature.
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// DefaultTolerance is the maximum allowed clock skew between the signature
// timestamp and now, in either direction.
const DefaultTolerance = 300 * time.Second

// ErrInvalidSignature matches every verification failure.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignatureError describes why a signature was rejected.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "invalid webhook signature: " + e.Reason
}

func (e *SignatureError) Is(target error) bool { return target == ErrInvalidSignature }

func reject(reason string) error {
	return &SignatureError{Reason: reason}
}

// Verifier checks signature headers against a shared secret.
type Verifier struct {
	Secret    []byte
	Tolerance time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// New returns a Verifier with the default tolerance.
func New(secret string) *Verifier {
	return &Verifier{Secret: []byte(secret), Tolerance: DefaultTolerance}
}

// Verify returns nil only when header carries a timestamp within tolerance
// and at least one v1 signature matching payload.
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.Secret) == 0 {
		return reject("no signing secret configured")
	}

	ts, sigs, err := parseHeader(header)
	if err != nil {
		return err
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return reject("timestamp outside tolerance")
	}

	expected := []byte(computeSignature(v.Secret, ts, payload))
	matched := false
	for _, sig := range sigs {
		if ConstantTimeEqual(expected, []byte(sig)) {
			matched = true
		}
	}
	if !matched {
		return reject("no matching signature")
	}
	return nil
}

// Sign builds a header for payload signed at t. It is used by tests and
// local tooling that replays events.
func Sign(secret []byte, payload []byte, t time.Time) string {
	ts := t.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + computeSignature(secret, ts, payload)
}

func computeSignature(secret []byte, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseHeader extracts the timestamp and every v1 signature. Other schemes
// (v0 test signatures) are ignored.
func parseHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, reject("missing signature header")
	}

	var (
		ts    int64
		hasTS bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, reject("malformed timestamp")
			}
			ts, hasTS = n, true
		case "v1":
			if val != "" {
				sigs = append(sigs, val)
			}
		}
	}
	if !hasTS {
		return 0, nil, reject("missing timestamp")
	}
	if len(sigs) == 0 {
		return 0, nil, reject("missing v1 signature")
	}
	return ts, sigs, nil
}

// ConstantTimeEqual compares a and b without an early exit on the first
// differing byte. Only the length comparison short-circuits.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := range a {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}
