// Package auth verifies bearer tokens and extracts the caller's role.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Roles.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

// Modes.
const (
	ModeDev  = "dev"  // token is "subject:role", unsigned
	ModeHMAC = "hmac" // HS256 JWT
	ModeOff  = "off"  // every caller is admin
)

var (
	ErrMalformed    = errors.New("auth: malformed token")
	ErrBadSignature = errors.New("auth: bad signature")
	ErrExpired      = errors.New("auth: token expired")
)

// Verifier validates tokens for one mode.
type Verifier struct {
	Mode       string
	HMACSecret []byte
	RoleClaim  string
	Now        func() time.Time
}

type Principal struct {
	Subject string
	Role    string
}

// New returns a Verifier; an empty mode means dev.
func New(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), RoleClaim: "role"}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeOff:
		return Principal{Subject: "anonymous", Role: RoleAdmin}, nil
	case ModeDev:
		sub, role, ok := strings.Cut(token, ":")
		if !ok || role == "" {
			return Principal{}, errors.New("auth: invalid dev token; expected subject:role")
		}
		return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
	case ModeHMAC:
		return v.verifyHS256(token)
	}
	return Principal{}, errors.New("auth: unsupported mode " + v.Mode)
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrMalformed
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, ErrMalformed
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, ErrMalformed
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, ErrMalformed
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Principal{}, ErrMalformed
	}
	if hdr.Alg != "HS256" {
		return Principal{}, errors.New("auth: unsupported alg " + hdr.Alg)
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, ErrBadSignature
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, ErrMalformed
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, ErrExpired
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims[v.RoleClaim].(string)
	if role == "" {
		role = RoleViewer
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

// SignHS256 issues a token for claims. Used by the CLI and tests.
func SignHS256(secret []byte, claims map[string]any) (string, error) {
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	in := b64urlEncode(hdr) + "." + b64urlEncode(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(in))
	return in + "." + b64urlEncode(mac.Sum(nil)), nil
}

// CanPlan reports whether p may start plans and edit locations.
func (p Principal) CanPlan() bool { return p.Role == RoleAdmin || p.Role == RoleDispatcher }

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func b64urlEncode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
