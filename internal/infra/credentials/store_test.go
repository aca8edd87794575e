package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestGeminiAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.GeminiAPIKey(context.Background())
	if err != nil {
		t.Fatalf("GeminiAPIKey error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestGeminiAPIKey_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.GeminiAPIKey(context.Background())
	if err != nil {
		t.Fatalf("GeminiAPIKey error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestSetGeminiAPIKey(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetGeminiAPIKey(context.Background(), " secret "); err != nil {
		t.Fatalf("SetGeminiAPIKey error: %v", err)
	}
	if len(exec.exec.args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetGeminiAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetGeminiAPIKey(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty key")
	}
}

type countingSource struct {
	key   string
	err   error
	calls int
}

func (c *countingSource) GeminiAPIKey(ctx context.Context) (string, error) {
	c.calls++
	return c.key, c.err
}

func TestKeyringEnvKeyWins(t *testing.T) {
	src := &countingSource{key: "stored"}
	k := NewKeyring(KeyringOptions{EnvKey: " env-key ", Store: src})
	if !k.HasKey(context.Background()) {
		t.Fatal("expected HasKey with env key")
	}
	key, err := k.APIKey(context.Background())
	if err != nil || key != "env-key" {
		t.Fatalf("APIKey = %q, %v", key, err)
	}
	if src.calls != 0 {
		t.Fatalf("store consulted %d times", src.calls)
	}
}

func TestKeyringRequestKeyLoadsStore(t *testing.T) {
	src := &countingSource{}
	k := NewKeyring(KeyringOptions{Store: src})
	ctx := context.Background()

	if k.HasKey(ctx) {
		t.Fatal("expected no key before any lookup")
	}
	ok, err := k.RequestKey(ctx)
	if err != nil || ok {
		t.Fatalf("RequestKey = %v, %v; want false, nil", ok, err)
	}

	src.key = "selected-later"
	ok, err = k.RequestKey(ctx)
	if err != nil || !ok {
		t.Fatalf("RequestKey = %v, %v; want true, nil", ok, err)
	}
	if !k.HasKey(ctx) {
		t.Fatal("expected HasKey after RequestKey")
	}
	key, err := k.APIKey(ctx)
	if err != nil || key != "selected-later" {
		t.Fatalf("APIKey = %q, %v", key, err)
	}
	if src.calls != 3 {
		t.Fatalf("store calls = %d, want 3", src.calls)
	}
}

func TestKeyringAPIKeyFollowsRotation(t *testing.T) {
	src := &countingSource{key: "old-key"}
	k := NewKeyring(KeyringOptions{Store: src})
	ctx := context.Background()

	key, err := k.APIKey(ctx)
	if err != nil || key != "old-key" {
		t.Fatalf("APIKey = %q, %v", key, err)
	}
	src.key = "new-key"
	key, err = k.APIKey(ctx)
	if err != nil || key != "new-key" {
		t.Fatalf("APIKey after rotation = %q, %v", key, err)
	}

	src.err = errors.New("db down")
	key, err = k.APIKey(ctx)
	if err != nil || key != "new-key" {
		t.Fatalf("APIKey during outage = %q, %v; want cached key", key, err)
	}

	cold := NewKeyring(KeyringOptions{Store: &countingSource{err: errors.New("db down")}})
	if _, err := cold.APIKey(ctx); err == nil {
		t.Fatal("expected error without any cached key")
	}
}

func TestKeyringStoreErrorKeepsCachedKey(t *testing.T) {
	src := &countingSource{key: "cached"}
	k := NewKeyring(KeyringOptions{Store: src})
	ctx := context.Background()
	if ok, _ := k.RequestKey(ctx); !ok {
		t.Fatal("expected key")
	}
	src.err = errors.New("db down")
	ok, err := k.RequestKey(ctx)
	if err == nil {
		t.Fatal("expected store error")
	}
	if !ok {
		t.Fatal("cached key should still be reported")
	}
}

func TestKeyringSyntheticAndNoStore(t *testing.T) {
	ctx := context.Background()
	if ok, err := NewKeyring(KeyringOptions{Synthetic: true}).RequestKey(ctx); err != nil || !ok {
		t.Fatalf("synthetic RequestKey = %v, %v", ok, err)
	}
	if ok, err := NewKeyring(KeyringOptions{}).RequestKey(ctx); err != nil || ok {
		t.Fatalf("storeless RequestKey = %v, %v", ok, err)
	}
}
