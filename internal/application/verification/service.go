// Package verification issues and delivers one-time codes and enforces the
// resend policy.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/pkg/contact"
)

// Fixed codes given to testing-system records. Delivery is skipped for them.
const (
	TestingSMSCode   = "1234"
	TestingEmailCode = "aaaaaa"
)

const emailAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Issued is a freshly generated code and when it may be resent.
type Issued struct {
	Code      string
	IssuedAt  time.Time
	NextRetry time.Time
}

type Service interface {
	// Issue generates a code for c and delivers it unless testing is set.
	Issue(ctx context.Context, c contact.Contact, testing bool) (Issued, error)
	// CheckResend fails with TooManyRetries or TryLater when reg may not get a new code yet.
	CheckResend(reg *domain.Registration) error
	NextRetry(issuedAt time.Time) time.Time
	Matches(stored, submitted string) bool
}

type sender interface {
	Send(ctx context.Context, destination, message string) error
}

type service struct {
	sms             sender
	email           sender
	cooldown        time.Duration
	maxResends      int
	smsCodeLength   int
	emailCodeLength int
	now             func() time.Time
}

type ServiceDeps struct {
	SMS             sender
	Email           sender
	Cooldown        time.Duration
	MaxResends      int
	SMSCodeLength   int
	EmailCodeLength int
	Now             func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		sms:             deps.SMS,
		email:           deps.Email,
		cooldown:        deps.Cooldown,
		maxResends:      deps.MaxResends,
		smsCodeLength:   max(deps.SMSCodeLength, 1),
		emailCodeLength: max(deps.EmailCodeLength, 1),
		now:             now,
	}
}

func (s *service) Issue(ctx context.Context, c contact.Contact, testing bool) (Issued, error) {
	var (
		code string
		err  error
		to   sender
	)
	switch c.Channel {
	case domain.ChannelPhone:
		to = s.sms
		code = TestingSMSCode
		if !testing {
			code, err = numericCode(s.smsCodeLength)
		}
	case domain.ChannelEmail:
		to = s.email
		code = TestingEmailCode
		if !testing {
			code, err = alphanumericCode(s.emailCodeLength)
		}
	default:
		return Issued{}, fmt.Errorf("channel %s has no verification code: %w", c.Channel, domain.ErrInvalidStep)
	}
	if err != nil {
		return Issued{}, err
	}

	if !testing {
		msg := fmt.Sprintf("Your verification code: %s", code)
		if err := to.Send(ctx, c.Value, msg); err != nil {
			return Issued{}, fmt.Errorf("deliver code: %w", domain.ErrDeliveryFailed.WithReason(err.Error()))
		}
	}

	now := s.now()
	return Issued{Code: code, IssuedAt: now, NextRetry: s.NextRetry(now)}, nil
}

func (s *service) CheckResend(reg *domain.Registration) error {
	if reg.ResendCount >= s.maxResends {
		return domain.ErrTooManyRetries.WithState(reg.State)
	}
	next := s.NextRetry(reg.CodeIssuedAt)
	if s.now().Before(next) {
		return domain.ErrTryLater.WithState(reg.State).WithNextRetry(next)
	}
	return nil
}

func (s *service) NextRetry(issuedAt time.Time) time.Time {
	return issuedAt.Add(s.cooldown)
}

func (s *service) Matches(stored, submitted string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// numericCode returns a code in [10^(n-1), 10^n - 1], i.e. without a leading zero.
func numericCode(n int) (string, error) {
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n-1)), nil)
	span := new(big.Int).Sub(new(big.Int).Mul(low, big.NewInt(10)), low)
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return v.Add(v, low).String(), nil
}

func alphanumericCode(n int) (string, error) {
	b := make([]byte, n)
	alphabet := big.NewInt(int64(len(emailAlphabet)))
	for i := range b {
		v, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b[i] = emailAlphabet[v.Int64()]
	}
	return string(b), nil
}
