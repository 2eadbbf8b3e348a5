package passgen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/policy"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// Storage keys.
const (
	KeyOptions = "passwordGenerationOptions"
	KeyHistory = "generatedPasswordHistory"
)

// MaxHistory is the number of generated passwords remembered.
const MaxHistory = 100

// MinLength is the shortest password generated.
const MinLength = 5

// Character sets. Ambiguous characters are only added on request.
const (
	lowerChars           = "abcdefghijkmnopqrstuvwxyz"
	lowerAmbiguousChars  = "l"
	upperChars           = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	upperAmbiguousChars  = "IO"
	numberChars          = "23456789"
	numberAmbiguousChars = "01"
	specialChars         = "!@#$%^&*"
)

// Options configure password generation.
type Options struct {
	Length       int  `json:"length"`
	Ambiguous    bool `json:"ambiguous"`
	Number       bool `json:"number"`
	MinNumber    int  `json:"minNumber"`
	Uppercase    bool `json:"uppercase"`
	MinUppercase int  `json:"minUppercase"`
	Lowercase    bool `json:"lowercase"`
	MinLowercase int  `json:"minLowercase"`
	Special      bool `json:"special"`
	MinSpecial   int  `json:"minSpecial"`
}

// DefaultOptions returns the options used when none are stored.
func DefaultOptions() Options {
	return Options{
		Length:       14,
		Ambiguous:    false,
		Number:       true,
		MinNumber:    1,
		Uppercase:    true,
		MinUppercase: 0,
		Lowercase:    true,
		MinLowercase: 0,
		Special:      false,
		MinSpecial:   1,
	}
}

// GeneratedPassword is one history entry.
type GeneratedPassword struct {
	Password string
	Date     time.Time
}

type storedPassword struct {
	Password models.EncString `json:"password"`
	Date     time.Time        `json:"date"`
}

// PolicySource supplies organization password requirements.
type PolicySource interface {
	GeneratorRequirements(ctx context.Context) (policy.GeneratorRequirements, error)
}

// Service generates passwords and keeps an encrypted history.
type Service struct {
	codec    crypto.Codec
	policies PolicySource
	storage  state.Store
	logger   *events.Logger
}

// NewService creates a password generation service. policies may be nil.
func NewService(codec crypto.Codec, policies PolicySource, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		codec:    codec,
		policies: policies,
		storage:  storage,
		logger:   logger.WithField("service", "passgen"),
	}
}

// GeneratePassword creates a password satisfying opts and the active
// organization policies.
func (s *Service) GeneratePassword(ctx context.Context, opts Options) (string, error) {
	if s.policies != nil {
		req, err := s.policies.GeneratorRequirements(ctx)
		if err != nil {
			return "", fmt.Errorf("read generator policies: %w", err)
		}
		opts = ApplyRequirements(opts, req)
	}
	return Generate(opts)
}

// ApplyRequirements raises opts to meet req.
func ApplyRequirements(opts Options, req policy.GeneratorRequirements) Options {
	if opts.Length < req.MinLength {
		opts.Length = req.MinLength
	}
	if req.UseUpper {
		opts.Uppercase = true
	}
	if req.UseLower {
		opts.Lowercase = true
	}
	if req.UseNumbers {
		opts.Number = true
	}
	if req.UseSpecial {
		opts.Special = true
	}
	if opts.MinNumber < req.MinNumbers {
		opts.MinNumber = req.MinNumbers
	}
	if opts.MinSpecial < req.MinSpecial {
		opts.MinSpecial = req.MinSpecial
	}
	return opts
}

// Sanitize normalizes minimums against the enabled character classes and
// makes the length fit them.
func Sanitize(opts Options) Options {
	if !opts.Uppercase && !opts.Lowercase && !opts.Number && !opts.Special {
		opts.Lowercase = true
	}

	opts.MinUppercase = minimum(opts.Uppercase, opts.MinUppercase)
	opts.MinLowercase = minimum(opts.Lowercase, opts.MinLowercase)
	opts.MinNumber = minimum(opts.Number, opts.MinNumber)
	opts.MinSpecial = minimum(opts.Special, opts.MinSpecial)

	if opts.Length < MinLength {
		opts.Length = MinLength
	}
	if required := opts.MinUppercase + opts.MinLowercase + opts.MinNumber + opts.MinSpecial; opts.Length < required {
		opts.Length = required
	}
	return opts
}

func minimum(enabled bool, min int) int {
	if !enabled {
		return 0
	}
	if min < 1 {
		return 1
	}
	return min
}

// Generate creates a password from opts without consulting policies.
func Generate(opts Options) (string, error) {
	opts = Sanitize(opts)

	positions := make([]byte, 0, opts.Length)
	positions = appendN(positions, 'l', opts.MinLowercase)
	positions = appendN(positions, 'u', opts.MinUppercase)
	positions = appendN(positions, 'n', opts.MinNumber)
	positions = appendN(positions, 's', opts.MinSpecial)
	positions = appendN(positions, 'a', opts.Length-len(positions))

	if err := shuffle(positions); err != nil {
		return "", err
	}

	lower, upper, number := lowerChars, upperChars, numberChars
	if opts.Ambiguous {
		lower += lowerAmbiguousChars
		upper += upperAmbiguousChars
		number += numberAmbiguousChars
	}

	var all strings.Builder
	if opts.Lowercase {
		all.WriteString(lower)
	}
	if opts.Uppercase {
		all.WriteString(upper)
	}
	if opts.Number {
		all.WriteString(number)
	}
	if opts.Special {
		all.WriteString(specialChars)
	}

	var b strings.Builder
	for _, p := range positions {
		var set string
		switch p {
		case 'l':
			set = lower
		case 'u':
			set = upper
		case 'n':
			set = number
		case 's':
			set = specialChars
		default:
			set = all.String()
		}
		i, err := randomInt(len(set))
		if err != nil {
			return "", err
		}
		b.WriteByte(set[i])
	}
	return b.String(), nil
}

func appendN(b []byte, c byte, n int) []byte {
	for i := 0; i < n; i++ {
		b = append(b, c)
	}
	return b
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random number: %w", err)
	}
	return int(v.Int64()), nil
}

// GetOptions returns the stored options over the defaults.
func (s *Service) GetOptions(ctx context.Context) (Options, error) {
	opts := DefaultOptions()
	if _, err := s.storage.Get(ctx, KeyOptions, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("read generator options: %w", err)
	}
	return opts, nil
}

// SaveOptions persists opts.
func (s *Service) SaveOptions(ctx context.Context, opts Options) error {
	return s.storage.Save(ctx, KeyOptions, opts)
}

// AddHistory records a generated password. Nothing is recorded while the
// vault is locked.
func (s *Service) AddHistory(ctx context.Context, password string) error {
	enc, err := s.codec.EncryptString(ctx, password, nil)
	if errors.Is(err, crypto.ErrKeyUnavailable) {
		s.logger.Debug("Vault locked, password history not recorded")
		return nil
	}
	if err != nil {
		return err
	}

	var history []storedPassword
	if _, err := s.storage.Get(ctx, KeyHistory, &history); err != nil {
		return fmt.Errorf("read password history: %w", err)
	}

	history = append([]storedPassword{{Password: enc, Date: time.Now().UTC()}}, history...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	return s.storage.Save(ctx, KeyHistory, history)
}

// GetHistory returns the decrypted history, newest first.
func (s *Service) GetHistory(ctx context.Context) ([]GeneratedPassword, error) {
	var history []storedPassword
	if _, err := s.storage.Get(ctx, KeyHistory, &history); err != nil {
		return nil, fmt.Errorf("read password history: %w", err)
	}

	out := make([]GeneratedPassword, 0, len(history))
	for _, h := range history {
		plain, err := s.codec.DecryptString(ctx, h.Password, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, GeneratedPassword{Password: plain, Date: h.Date})
	}
	return out, nil
}

// ClearHistory forgets the history.
func (s *Service) ClearHistory(ctx context.Context) error {
	return s.storage.Remove(ctx, KeyHistory)
}
