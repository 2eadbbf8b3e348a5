package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Service produces two-factor codes, both for signing in and for the TOTP
// seeds stored in login items.
type Service interface {
	// GenerateCode generates a code from a base32 secret or otpauth URI.
	GenerateCode(secret string) (string, error)

	// ValidateCode validates a code against a secret.
	ValidateCode(secret, code string) bool

	// GenerateCodeAtTime generates a code for a specific time.
	GenerateCodeAtTime(secret string, t time.Time) (string, error)
}

// DefaultService implements Service.
type DefaultService struct {
	period    uint
	digits    otp.Digits
	algorithm otp.Algorithm
	now       func() time.Time
}

// NewService creates a service producing standard 6 digit SHA1 codes on
// 30 second windows.
func NewService() *DefaultService {
	return NewServiceWithConfig(30, 6, "SHA1")
}

// NewServiceWithConfig creates a service with custom parameters. Unknown
// algorithms fall back to SHA1.
func NewServiceWithConfig(period, digits uint, algorithm string) *DefaultService {
	return &DefaultService{
		period:    period,
		digits:    otp.Digits(digits),
		algorithm: parseAlgorithm(algorithm),
		now:       time.Now,
	}
}

func parseAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	case "MD5":
		return otp.AlgorithmMD5
	default:
		return otp.AlgorithmSHA1
	}
}

// GenerateCode generates a code for the current time.
func (s *DefaultService) GenerateCode(secret string) (string, error) {
	return s.GenerateCodeAtTime(secret, s.now())
}

// GenerateCodeAtTime generates a code for t.
func (s *DefaultService) GenerateCodeAtTime(secret string, t time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("totp: secret cannot be empty")
	}

	key, opts, err := s.resolve(secret)
	if err != nil {
		return "", err
	}

	code, err := totp.GenerateCodeCustom(key, t, opts)
	if err != nil {
		return "", fmt.Errorf("totp: failed to generate code: %w", err)
	}
	return code, nil
}

// ValidateCode accepts codes from the current and adjacent windows.
func (s *DefaultService) ValidateCode(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}

	key, opts, err := s.resolve(secret)
	if err != nil {
		return false
	}
	opts.Skew = 1

	ok, err := totp.ValidateCustom(code, key, s.now(), opts)
	return err == nil && ok
}

// resolve splits an otpauth URI into its secret and parameters. Plain
// secrets use the service defaults; spaces and padding are tolerated.
func (s *DefaultService) resolve(secret string) (string, totp.ValidateOpts, error) {
	opts := totp.ValidateOpts{
		Period:    s.period,
		Digits:    s.digits,
		Algorithm: s.algorithm,
	}

	if !strings.HasPrefix(strings.ToLower(secret), "otpauth://") {
		cleaned := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
		return strings.TrimRight(cleaned, "="), opts, nil
	}

	key, err := otp.NewKeyFromURL(secret)
	if err != nil {
		return "", opts, fmt.Errorf("totp: invalid otpauth uri: %w", err)
	}
	if key.Type() != "totp" {
		return "", opts, fmt.Errorf("totp: unsupported key type %q", key.Type())
	}
	if p := key.Period(); p > 0 {
		opts.Period = uint(p)
	}
	if d := key.Digits(); d > 0 {
		opts.Digits = d
	}
	opts.Algorithm = key.Algorithm()
	return key.Secret(), opts, nil
}

// GetTimeWindow returns the current window index and the time left in it.
func (s *DefaultService) GetTimeWindow() (current int64, remaining time.Duration) {
	now := s.now()
	current = now.Unix() / int64(s.period)

	nextWindow := (current + 1) * int64(s.period)
	remaining = time.Unix(nextWindow, 0).Sub(now)

	return current, remaining
}

// IsValidSecret checks that a secret can produce codes.
func (s *DefaultService) IsValidSecret(secret string) error {
	if _, err := s.GenerateCode(secret); err != nil {
		return fmt.Errorf("totp: invalid secret format: %w", err)
	}
	return nil
}
