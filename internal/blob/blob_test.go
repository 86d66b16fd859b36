package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeObject struct {
	body        []byte
	contentType string
}

// fakeS3 answers the handful of path-style S3 calls the driver makes.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string]fakeObject
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	empty := io.NopCloser(bytes.NewReader(nil))
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.state[key]
		if !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Body: empty, Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: empty, Header: http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}}, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.state[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return &http.Response{StatusCode: http.StatusOK, Body: empty, Header: http.Header{"ETag": {`"etag"`}}}, nil
	case http.MethodGet:
		obj, ok := f.state[key]
		if !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Body: empty, Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(obj.body)), Header: http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
		}}, nil
	case http.MethodDelete:
		delete(f.state, key)
		return &http.Response{StatusCode: http.StatusNoContent, Body: empty, Header: http.Header{}}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: empty, Header: http.Header{}}, nil
}

// decodeChunked unwraps a single-chunk aws-chunked body.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeS3Store(t *testing.T, publicBase string) *S3 {
	t.Helper()
	store, err := NewS3(context.Background(), S3Config{
		Bucket:          "plans",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		PublicBaseURL:   publicBase,
		HTTPClient:      &http.Client{Transport: &fakeS3{state: map[string]fakeObject{}}},
	})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	return store
}

func TestS3PutReturnsPublicURL(t *testing.T) {
	store := newFakeS3Store(t, "https://files.example.edu/")
	ctx := context.Background()
	key := Key("plan-1", "evidence", "u1", "report.pdf")
	info, err := store.Put(ctx, key, bytes.NewReader([]byte("hello")), PutOptions{ContentType: "application/pdf"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.URL != "https://files.example.edu/plans/plan-1/evidence/u1/report.pdf" {
		t.Fatalf("unexpected url %q", info.URL)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte("again")), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected exists error, got %v", err)
	}
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if ok, err := store.Delete(ctx, key); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
}

func TestS3PutPresignsWithoutPublicBase(t *testing.T) {
	store := newFakeS3Store(t, "")
	info, err := store.Put(context.Background(), "plans/p/f/x.txt", bytes.NewReader([]byte("x")), PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.Contains(info.URL, "X-Amz-Signature") {
		t.Fatalf("expected presigned url, got %q", info.URL)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory("")
	ctx := context.Background()
	info, err := store.Put(ctx, "a/b.txt", strings.NewReader("data"), PutOptions{Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.URL != "memory://blobs/a/b.txt" || info.Size != 4 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Put(cancelled, "c", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("expected cancelled put to fail")
	}
}

func TestKeySanitisesFileName(t *testing.T) {
	for in, want := range map[string]string{
		"../../etc/passwd": "plans/p/f/u/passwd",
		`C:\docs\cv.pdf`:   "plans/p/f/u/cv.pdf",
		"":                 "plans/p/f/u/upload",
	} {
		if got := Key("p", "f", "u", in); got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "gcs"})
	if err == nil || !strings.Contains(err.Error(), fmt.Sprintf("%q", "gcs")) {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}
