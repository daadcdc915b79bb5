package storage

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type storedObject struct {
	body        []byte
	contentType string
}

// fakeS3 answers the handful of path-style object calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]storedObject
}

func decodeChunked(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var out bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		var body []byte
		var err error
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			body, err = decodeChunked(r.Body)
		} else {
			body, err = io.ReadAll(r.Body)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.objects[key] = storedObject{body: body, contentType: r.Header.Get("Content-Type")}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*AvatarStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]storedObject{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Secure: false,
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio.New: %v", err)
	}
	return NewAvatarStore(client, "musaic"), fake
}

func TestPutAndGet(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	data := []byte("\x89PNG fake image")
	if err := store.Put(ctx, "avatars/1.png", "image/png", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got := fake.objects["musaic/avatars/1.png"]; !bytes.Equal(got.body, data) {
		t.Fatalf("stored body = %q", got.body)
	}

	obj, info, err := store.Get(ctx, "avatars/1.png")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer obj.Close()
	if info.ContentType != "image/png" || info.Size != int64(len(data)) {
		t.Errorf("info = %+v", info)
	}
	body, err := io.ReadAll(obj)
	if err != nil || !bytes.Equal(body, data) {
		t.Errorf("body = %q, %v", body, err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, _, err := store.Get(context.Background(), "avatars/404.jpg")
	if err == nil {
		t.Fatal("Get() error = nil")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
}

func TestMirrorAvatar(t *testing.T) {
	store, fake := newTestStore(t)
	avatar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer avatar.Close()

	path, err := store.MirrorAvatar(context.Background(), avatar.Client(), 42, avatar.URL+"/me.png")
	if err != nil {
		t.Fatalf("MirrorAvatar() error = %v", err)
	}
	if path != "/static/avatars/42.png" {
		t.Errorf("path = %q", path)
	}
	if got := fake.objects["musaic/avatars/42.png"]; string(got.body) != "png-bytes" {
		t.Errorf("stored = %q", got.body)
	}
}

func TestMirrorAvatarUpstreamFailure(t *testing.T) {
	store, _ := newTestStore(t)
	avatar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer avatar.Close()

	if _, err := store.MirrorAvatar(context.Background(), avatar.Client(), 1, avatar.URL); err == nil {
		t.Error("MirrorAvatar() error = nil for 404 source")
	}
}

func TestAvatarKeyAndFormatSize(t *testing.T) {
	keys := map[string]string{
		"image/png":  "avatars/7.png",
		"image/jpeg": "avatars/7.jpg",
		"image/webp": "avatars/7.webp",
		"":           "avatars/7.jpg",
	}
	for ct, want := range keys {
		if got := AvatarKey(7, ct); got != want {
			t.Errorf("AvatarKey(%q) = %q, want %q", ct, got, want)
		}
	}

	sizes := map[int64]string{512: "512 B", 2048: "2.0 KB", 5 << 20: "5.0 MB"}
	for n, want := range sizes {
		if got := FormatSize(n); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", n, got, want)
		}
	}
}
