package login

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jazzmind/vibefunder/internal/services/auth/user"
)

func TestRequestCodeIssuesSixDigits(t *testing.T) {
	fixture := newFixture(t)

	issued, err := fixture.machine.RequestCode(context.Background(), "New@Example.com")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	if issued.Email != "new@example.com" {
		t.Fatalf("email = %q", issued.Email)
	}
	if len(issued.Code) != codeDigits {
		t.Fatalf("code = %q, want %d digits", issued.Code, codeDigits)
	}
	for _, r := range issued.Code {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in code %q", issued.Code)
		}
	}
	if !issued.ExpiresAt.Equal(loginEpoch.Add(10 * time.Minute)) {
		t.Fatalf("expires at = %v", issued.ExpiresAt)
	}
}

func TestVerifyCodeCreatesVerifiedUser(t *testing.T) {
	fixture := newFixture(t)

	issued, err := fixture.machine.RequestCode(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}

	result, err := fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "new@example.com",
		Code:  issued.Code,
	})
	if err != nil {
		t.Fatalf("verify code: %v", err)
	}
	if !result.User.EmailVerified {
		t.Fatal("expected verified email on created user")
	}
	if !result.User.Active {
		t.Fatal("expected active user")
	}
	if result.User.Role != user.RoleUser {
		t.Fatalf("role = %q", result.User.Role)
	}
	if result.Session.Token == "" {
		t.Fatal("expected session")
	}
	if _, err := fixture.users.GetUserByEmail(context.Background(), "new@example.com"); err != nil {
		t.Fatalf("expected persisted user: %v", err)
	}
}

func TestVerifyCodeForwardsSessionFlags(t *testing.T) {
	fixture := newFixture(t, verifiedUser(t, "correct horse"))

	issued, err := fixture.machine.RequestCode(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	if _, err := fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email:                   "alice@example.com",
		Code:                    issued.Code,
		RememberMe:              true,
		InvalidateOtherSessions: true,
	}); err != nil {
		t.Fatalf("verify code: %v", err)
	}
	if len(fixture.sessions.created) != 1 {
		t.Fatalf("expected one session, got %d", len(fixture.sessions.created))
	}
	opts := fixture.sessions.created[0]
	if !opts.RememberMe || !opts.InvalidateOtherSessions {
		t.Fatalf("session options = %+v, want both flags set", opts)
	}
}

func TestVerifyCodeUpgradesUnverifiedAccount(t *testing.T) {
	account := verifiedUser(t, "correct horse")
	account.EmailVerified = false
	account.FailedLoginAttempts = 3
	fixture := newFixture(t, account)

	issued, err := fixture.machine.RequestCode(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	result, err := fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "alice@example.com",
		Code:  issued.Code,
	})
	if err != nil {
		t.Fatalf("verify code: %v", err)
	}
	if result.User.ID != "user-1" {
		t.Fatalf("user id = %q, want existing account", result.User.ID)
	}
	stored := fixture.users.users["user-1"]
	if !stored.EmailVerified || stored.FailedLoginAttempts != 0 {
		t.Fatalf("expected verified clean account, got %+v", stored)
	}
}

func TestVerifyCodeSingleUse(t *testing.T) {
	fixture := newFixture(t)
	issued, err := fixture.machine.RequestCode(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}

	if _, err := fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "new@example.com", Code: issued.Code,
	}); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	_, err = fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "new@example.com", Code: issued.Code,
	})
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected invalid code on reuse, got %v", err)
	}
}

func TestVerifyCodeWrongValue(t *testing.T) {
	fixture := newFixture(t)
	if _, err := fixture.machine.RequestCode(context.Background(), "new@example.com"); err != nil {
		t.Fatalf("request code: %v", err)
	}

	_, err := fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "new@example.com", Code: "not-a-code",
	})
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	_, err = fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "new@example.com", Code: "",
	})
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected invalid code for empty value, got %v", err)
	}
}

func TestVerifyCodeExpired(t *testing.T) {
	fixture := newFixture(t)
	issued, err := fixture.machine.RequestCode(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}

	fixture.machine.clock = func() time.Time { return loginEpoch.Add(11 * time.Minute) }
	_, err = fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "new@example.com", Code: issued.Code,
	})
	if !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected expired code, got %v", err)
	}
}

func TestVerifyCodeInactiveAccount(t *testing.T) {
	account := verifiedUser(t, "correct horse")
	account.Active = false
	fixture := newFixture(t, account)

	issued, err := fixture.machine.RequestCode(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	_, err = fixture.machine.VerifyCode(context.Background(), CodeInput{
		Email: "alice@example.com", Code: issued.Code,
	})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestPruneCodes(t *testing.T) {
	fixture := newFixture(t)
	if _, err := fixture.machine.RequestCode(context.Background(), "new@example.com"); err != nil {
		t.Fatalf("request code: %v", err)
	}

	fixture.machine.clock = func() time.Time { return loginEpoch.Add(time.Hour) }
	if err := fixture.machine.PruneCodes(context.Background()); err != nil {
		t.Fatalf("prune codes: %v", err)
	}
	if len(fixture.codes.codes) != 0 {
		t.Fatalf("expected codes pruned, got %d", len(fixture.codes.codes))
	}
}
