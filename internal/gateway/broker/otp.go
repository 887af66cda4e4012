package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// OTPSource supplies the one-time code sent with each login.
type OTPSource interface {
	Code(ctx context.Context) (string, error)
}

// OTPFunc adapts a function to OTPSource.
type OTPFunc func(ctx context.Context) (string, error)

func (f OTPFunc) Code(ctx context.Context) (string, error) { return f(ctx) }

// StaticOTP always returns the same code.
type StaticOTP string

func (s StaticOTP) Code(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("otp code is empty")
	}
	return string(s), nil
}

// TOTP derives 6 digit time based codes from a base32 secret (RFC 6238,
// 30 second step, HMAC-SHA1).
type TOTP struct {
	Secret string
	Now    func() time.Time
}

func (t TOTP) Code(context.Context) (string, error) {
	key, err := decodeSecret(t.Secret)
	if err != nil {
		return "", err
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return hotp(key, uint64(now().Unix()/30)), nil
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	if s == "" {
		return nil, fmt.Errorf("totp secret is empty")
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return key, nil
}

func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	code := (binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff) % 1_000_000
	return fmt.Sprintf("%06d", code)
}
