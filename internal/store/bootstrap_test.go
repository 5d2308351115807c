package store

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/szibis/log-archiver/internal/logging"
)

type mockBucket struct {
	exists     bool
	existsErr  error
	createErr  error
	credsErr   error
	created    bool
	credsCheck bool
}

func (m *mockBucket) BucketExists(context.Context) (bool, error) { return m.exists, m.existsErr }
func (m *mockBucket) CreateBucket(context.Context) error {
	m.created = true
	return m.createErr
}
func (m *mockBucket) CheckCredentials(context.Context) error {
	m.credsCheck = true
	return m.credsErr
}

func TestPrepare(t *testing.T) {
	denied := &StoreError{Op: "list_objects", Type: ErrorTypePermission, Err: errors.New("denied")}

	tests := []struct {
		name        string
		bucket      *mockBucket
		opts        PrepareOptions
		wantErr     string
		wantCreated bool
		wantCreds   bool
	}{
		{"exists", &mockBucket{exists: true}, PrepareOptions{}, "", false, false},
		{"missing no autocreate", &mockBucket{}, PrepareOptions{}, "auto-create is disabled", false, false},
		{"missing autocreate", &mockBucket{}, PrepareOptions{AutoCreateBucket: true}, "", true, false},
		{"create fails", &mockBucket{createErr: errors.New("nope")}, PrepareOptions{AutoCreateBucket: true}, "create bucket", true, false},
		{"exists check fails", &mockBucket{existsErr: errors.New("dns")}, PrepareOptions{AutoCreateBucket: true}, "check bucket", false, false},
		{"credentials ok", &mockBucket{exists: true}, PrepareOptions{CheckCredentials: true}, "", false, true},
		{"credentials denied", &mockBucket{exists: true, credsErr: denied}, PrepareOptions{CheckCredentials: true}, "credential check failed", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Prepare(context.Background(), tt.bucket, tt.opts, logging.New(&buf))
			if tt.wantErr == "" && err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("Prepare error = %v, want containing %q", err, tt.wantErr)
			}
			if tt.bucket.created != tt.wantCreated {
				t.Errorf("created = %v, want %v", tt.bucket.created, tt.wantCreated)
			}
			if tt.bucket.credsCheck != tt.wantCreds {
				t.Errorf("credentials checked = %v, want %v", tt.bucket.credsCheck, tt.wantCreds)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.Write(ctx, Object{Key: "a", Body: strings.NewReader("one"), ContentType: "text/plain"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.WriteIfAbsent(ctx, Object{Key: "a", Body: strings.NewReader("two")}); !errors.Is(err, ErrKeyExists) {
		t.Errorf("WriteIfAbsent(taken) = %v, want ErrKeyExists", err)
	}
	obj, ok := m.Get("a")
	if !ok || string(obj.Data) != "one" || obj.ContentType != "text/plain" {
		t.Errorf("Get(a) = %+v, %v", obj, ok)
	}

	ok, _ = m.Exists(ctx, "a")
	if !ok || m.ExistsCalls() != 1 {
		t.Errorf("Exists(a) = %v after %d calls", ok, m.ExistsCalls())
	}
	if keys := m.Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("Keys() = %v", keys)
	}
}
