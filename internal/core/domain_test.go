package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseISODate(t *testing.T) {
	d, err := ParseISODate("2024-03-05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ISO() != "2024-03-05" {
		t.Fatalf("expected 2024-03-05, got %s", d.ISO())
	}
	for _, bad := range []string{"", "2024-02-30", "05/03/2024", "2024-3-5"} {
		if _, err := ParseISODate(bad); err == nil {
			t.Fatalf("%q expected error", bad)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		HouseholdID: "h1",
		Merchant:    "Posto Shell",
		Amount:      Money{Cents: 100},
		Date:        NewDate(2024, 3, 5),
		Fingerprint: "fp_x",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Transaction{
		{HouseholdID: "h1", Merchant: "m", Amount: Money{Cents: 1}, Fingerprint: "f"},
		{HouseholdID: "", Merchant: "m", Amount: Money{Cents: 1}, Date: NewDate(2024, 1, 1), Fingerprint: "f"},
		{HouseholdID: "h1", Merchant: " ", Amount: Money{Cents: 1}, Date: NewDate(2024, 1, 1), Fingerprint: "f"},
		{HouseholdID: "h1", Merchant: "m", Amount: Money{Cents: 0}, Date: NewDate(2024, 1, 1), Fingerprint: "f"},
		{HouseholdID: "h1", Merchant: "m", Amount: Money{Cents: 1}, Date: NewDate(2024, 1, 1)},
	}
	for i, tx := range bads {
		if err := tx.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestImportStatusIsTerminal(t *testing.T) {
	if ImportPending.IsTerminal() || ImportProcessing.IsTerminal() {
		t.Fatal("pending/processing must not be terminal")
	}
	if !ImportCompleted.IsTerminal() || !ImportFailed.IsTerminal() {
		t.Fatal("completed/failed must be terminal")
	}
}

type fakeUpstream struct{}

func (fakeUpstream) Error() string        { return "rate limited" }
func (fakeUpstream) UpstreamKind() string { return "rate_limited" }

func TestFailureKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("check: %w", ErrDuplicateFile), FailureDuplicateFile},
		{ErrNoTransactions, FailureNoData},
		{StorageError("insert transactions", errors.New("UNIQUE constraint failed")), FailureStorage},
		{fmt.Errorf("classify: %w", fakeUpstream{}), FailureUpstream},
		{errors.New("boom"), FailureInternal},
	}
	for _, tc := range cases {
		if got := FailureKind(tc.err); got != tc.want {
			t.Fatalf("FailureKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestStorageErrorKeepsMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageError("fetch upload", cause)
	if err.Error() != "fetch upload: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) || !errors.Is(err, ErrStorage) {
		t.Fatal("storage error must unwrap to both the cause and ErrStorage")
	}
	if StorageError("x", nil) != nil {
		t.Fatal("nil cause must yield nil")
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	long := strings.Repeat("ã", 1500) // 3000 bytes
	got := TruncateErrorMessage(long)
	if len(got) > 2000 {
		t.Fatalf("expected at most 2000 bytes, got %d", len(got))
	}
	if !strings.HasPrefix(long, got) || len(got)%2 != 0 {
		t.Fatalf("truncation split a rune")
	}
	if TruncateErrorMessage(" short ") != "short" {
		t.Fatal("short messages are only trimmed")
	}
}
