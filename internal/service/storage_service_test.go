package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/jmylchreest/autoindex-api/internal/config"
)

// ----------------------------------------
// In-memory S3 (path-style) for tests
// ----------------------------------------

type fakeObject struct {
	data     []byte
	modified time.Time
}

type fakeS3 struct {
	*httptest.Server
	bucket string

	mu      sync.Mutex
	objects map[string]fakeObject
	deletes int
}

func newFakeS3(t *testing.T, bucket string) *fakeS3 {
	t.Helper()
	f := &fakeS3{bucket: bucket, objects: map[string]fakeObject{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeS3) put(key string, data []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, modified: modified}
}

func (f *fakeS3) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj.data, ok
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type listBucketResult struct {
	XMLName     xml.Name       `xml:"ListBucketResult"`
	Name        string         `xml:"Name"`
	Prefix      string         `xml:"Prefix"`
	KeyCount    int            `xml:"KeyCount"`
	MaxKeys     int            `xml:"MaxKeys"`
	IsTruncated bool           `xml:"IsTruncated"`
	Contents    []listContents `xml:"Contents"`
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
}

func (f *fakeS3) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		http.Error(w, "NoSuchBucket", http.StatusNotFound)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		res := listBucketResult{Name: f.bucket, Prefix: prefix, MaxKeys: 1000}
		var names []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				names = append(names, k)
			}
		}
		sort.Strings(names)
		for _, k := range names {
			obj := f.objects[k]
			res.Contents = append(res.Contents, listContents{
				Key:          k,
				LastModified: obj.modified.UTC().Format("2006-01-02T15:04:05.000Z"),
				ETag:         `"etag"`,
				Size:         len(obj.data),
			})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)

	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			body = decodeAWSChunked(body)
		}
		f.objects[key] = fakeObject{data: body, modified: time.Now()}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		_, _ = w.Write(obj.data)

	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		f.deletes++
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

// decodeAWSChunked strips aws-chunked framing from a streamed upload.
func decodeAWSChunked(body []byte) []byte {
	var out bytes.Buffer
	rd := bufio.NewReader(bytes.NewReader(body))
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return out.Bytes()
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || size == 0 {
			return out.Bytes()
		}
		if _, err := io.CopyN(&out, rd, size); err != nil {
			return out.Bytes()
		}
		_, _ = rd.ReadString('\n')
	}
}

func newTestStorage(t *testing.T) (*StorageService, *fakeS3) {
	t.Helper()
	s3 := newFakeS3(t, "autoindex-test")
	cfg := &appconfig.Config{
		StorageEnabled:   true,
		StorageEndpoint:  s3.URL,
		StorageAccessKey: "test-access",
		StorageSecretKey: "test-secret",
		StorageBucket:    "autoindex-test",
		StorageRegion:    "auto",
	}
	svc, err := NewStorageService(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewStorageService: %v", err)
	}
	return svc, s3
}

// ----------------------------------------
// Disabled storage
// ----------------------------------------

func TestNewStorageService_Disabled(t *testing.T) {
	svc, err := NewStorageService(&appconfig.Config{StorageEnabled: false}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.IsEnabled() {
		t.Error("expected storage to be disabled")
	}
	if svc.Bucket() != "" {
		t.Error("expected bucket to be empty when disabled")
	}
}

func TestStorageService_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	for name, svc := range map[string]*StorageService{
		"disabled": {enabled: false, logger: testLogger(), now: time.Now},
		"nil":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			if err := svc.PutReportDetails(ctx, "site-1", "2026-10-16", []byte(`{}`)); err != nil {
				t.Errorf("PutReportDetails: %v", err)
			}
			data, err := svc.GetReportDetails(ctx, "site-1", "2026-10-16")
			if err != nil || data != nil {
				t.Errorf("GetReportDetails = %q, %v", data, err)
			}
			if n, err := svc.DeleteSiteReports(ctx, "site-1"); n != 0 || err != nil {
				t.Errorf("DeleteSiteReports = %d, %v", n, err)
			}
			if n, err := svc.DeleteOldReports(ctx, time.Hour); n != 0 || err != nil {
				t.Errorf("DeleteOldReports = %d, %v", n, err)
			}
		})
	}
}

// ----------------------------------------
// Enabled storage
// ----------------------------------------

func TestStorageService_ReportRoundTrip(t *testing.T) {
	svc, s3 := newTestStorage(t)
	ctx := context.Background()
	doc := []byte(`{"new":["https://example.com/a"]}`)

	if err := svc.PutReportDetails(ctx, "site-1", "2026-10-16", doc); err != nil {
		t.Fatalf("PutReportDetails: %v", err)
	}
	stored, ok := s3.get("reports/site-1/2026-10-16.json")
	if !ok {
		t.Fatalf("object not stored; keys = %v", s3.keys())
	}
	if !bytes.Equal(stored, doc) {
		t.Errorf("stored = %s, want %s", stored, doc)
	}

	got, err := svc.GetReportDetails(ctx, "site-1", "2026-10-16")
	if err != nil {
		t.Fatalf("GetReportDetails: %v", err)
	}
	if !bytes.Equal(got, doc) {
		t.Errorf("got = %s, want %s", got, doc)
	}

	missing, err := svc.GetReportDetails(ctx, "site-1", "2020-01-01")
	if err != nil || missing != nil {
		t.Errorf("missing report = %q, %v; want nil, nil", missing, err)
	}
}

func TestStorageService_PutEmptySkipped(t *testing.T) {
	svc, s3 := newTestStorage(t)
	if err := svc.PutReportDetails(context.Background(), "site-1", "2026-10-16", nil); err != nil {
		t.Fatalf("PutReportDetails: %v", err)
	}
	if len(s3.keys()) != 0 {
		t.Errorf("keys = %v, want none", s3.keys())
	}
}

func TestStorageService_DeleteSiteReports(t *testing.T) {
	svc, s3 := newTestStorage(t)
	now := time.Now()
	s3.put("reports/site-1/2026-10-15.json", []byte("{}"), now)
	s3.put("reports/site-1/2026-10-16.json", []byte("{}"), now)
	s3.put("reports/site-10/2026-10-16.json", []byte("{}"), now)
	s3.put("reports/site-2/2026-10-16.json", []byte("{}"), now)

	deleted, err := svc.DeleteSiteReports(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("DeleteSiteReports: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	want := "[reports/site-10/2026-10-16.json reports/site-2/2026-10-16.json]"
	if got := fmt.Sprint(s3.keys()); got != want {
		t.Errorf("remaining = %s, want %s", got, want)
	}
}

func TestStorageService_DeleteOldReports(t *testing.T) {
	svc, s3 := newTestStorage(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	s3.put("reports/site-1/2026-06-01.json", []byte("{}"), now.AddDate(0, 0, -137))
	s3.put("reports/site-1/2026-10-01.json", []byte("{}"), now.AddDate(0, 0, -15))
	s3.put("reports/site-2/2026-07-01.json", []byte("{}"), now.AddDate(0, 0, -107))

	deleted, err := svc.DeleteOldReports(context.Background(), 90*24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteOldReports: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if got := fmt.Sprint(s3.keys()); got != "[reports/site-1/2026-10-01.json]" {
		t.Errorf("remaining = %s", got)
	}
}
