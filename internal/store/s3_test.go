package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeS3 is a path-style S3 endpoint covering the calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	headers map[string]http.Header
	deny    bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		headers: map[string]http.Header{},
	}
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deny {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeS3Error(w, http.StatusForbidden, "AccessDenied")
		return
	}

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.buckets[bucket] = true
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if !f.buckets[bucket] {
				writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>`+bucket+`</Name><KeyCount>0</KeyCount><MaxKeys>1</MaxKeys><IsTruncated>false</IsTruncated></ListBucketResult>`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	full := bucket + "/" + key
	switch r.Method {
	case http.MethodHead:
		if _, ok := f.objects[full]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if r.Header.Get("If-None-Match") == "*" {
			if _, ok := f.objects[full]; ok {
				writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed")
				return
			}
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[full] = body
		f.headers[full] = r.Header.Clone()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T, fake *fakeS3) *S3Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	st, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "logs",
		Region:          "us-east-1",
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		UseSSL:          false,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	return st
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"", true, ""},
		{"minio:9000", false, "http://minio:9000"},
		{"minio:9000", true, "https://minio:9000"},
		{"http://minio:9000", true, "http://minio:9000"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}

func TestS3StoreWriteAndExists(t *testing.T) {
	fake := newFakeS3()
	fake.buckets["logs"] = true
	st := newTestS3Store(t, fake)
	ctx := context.Background()

	exists, err := st.Exists(ctx, "2023/01/01_0.gz")
	if err != nil || exists {
		t.Fatalf("Exists before write = %v, %v", exists, err)
	}

	body := []byte("payload")
	err = st.Write(ctx, Object{
		Key:          "2023/01/01_0.gz",
		Body:         bytes.NewReader(body),
		Size:         int64(len(body)),
		ContentType:  "application/x-gzip",
		StorageClass: StorageClassReducedRedundancy,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	exists, err = st.Exists(ctx, "2023/01/01_0.gz")
	if err != nil || !exists {
		t.Fatalf("Exists after write = %v, %v", exists, err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if got := string(fake.objects["logs/2023/01/01_0.gz"]); got != "payload" {
		t.Errorf("stored body = %q", got)
	}
	h := fake.headers["logs/2023/01/01_0.gz"]
	if h.Get("Content-Type") != "application/x-gzip" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if h.Get("X-Amz-Storage-Class") != "REDUCED_REDUNDANCY" {
		t.Errorf("storage class = %q", h.Get("X-Amz-Storage-Class"))
	}
}

func TestS3StoreWriteIfAbsentConflict(t *testing.T) {
	fake := newFakeS3()
	fake.buckets["logs"] = true
	fake.objects["logs/k"] = []byte("old")
	st := newTestS3Store(t, fake)

	err := st.WriteIfAbsent(context.Background(), Object{Key: "k", Body: strings.NewReader("new"), Size: 3})
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("WriteIfAbsent error = %v, want ErrKeyExists", err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Type != ErrorTypeConflict {
		t.Errorf("error = %#v, want conflict StoreError", err)
	}

	if err := st.WriteIfAbsent(context.Background(), Object{Key: "k2", Body: strings.NewReader("new"), Size: 3}); err != nil {
		t.Errorf("WriteIfAbsent(free key) = %v", err)
	}
}

func TestS3StoreBucketLifecycle(t *testing.T) {
	fake := newFakeS3()
	st := newTestS3Store(t, fake)
	ctx := context.Background()

	exists, err := st.BucketExists(ctx)
	if err != nil || exists {
		t.Fatalf("BucketExists = %v, %v", exists, err)
	}
	if err := st.CreateBucket(ctx); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	exists, err = st.BucketExists(ctx)
	if err != nil || !exists {
		t.Fatalf("BucketExists after create = %v, %v", exists, err)
	}
	if err := st.CheckCredentials(ctx); err != nil {
		t.Errorf("CheckCredentials: %v", err)
	}
}

func TestS3StorePermissionDenied(t *testing.T) {
	fake := newFakeS3()
	fake.deny = true
	st := newTestS3Store(t, fake)

	err := st.CheckCredentials(context.Background())
	var se *StoreError
	if !errors.As(err, &se) || se.Type != ErrorTypePermission {
		t.Fatalf("CheckCredentials error = %v, want permission", err)
	}

	_, err = st.Exists(context.Background(), "k")
	if !errors.As(err, &se) || se.Type != ErrorTypePermission {
		t.Errorf("Exists error = %v, want permission", err)
	}
}
