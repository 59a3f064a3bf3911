package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vidfriends/groupcast/internal/models"
)

type uploaderStub struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (u *uploaderStub) Upload(ctx context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	u.input = input
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.body = data
	if u.err != nil {
		return nil, u.err
	}
	return &manager.UploadOutput{}, nil
}

func writeCapture(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	return path
}

func TestS3TransportUpload(t *testing.T) {
	path := writeCapture(t, "clip.mp4", 64*1024)
	stub := &uploaderStub{}
	transport := newS3Transport(stub, "media", "https://cdn.example.com/")
	transport.keyFunc = func() string { return "fixed" }

	var reports []int
	url, err := transport.Upload(context.Background(), models.MediaDescriptor{
		SourceURI:   "file://" + path,
		Kind:        models.MediaKindVideo,
		ContentType: "video/mp4",
	}, func(p int) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if url != "https://cdn.example.com/video/fixed.mp4" {
		t.Fatalf("unexpected url %q", url)
	}
	if got := aws.ToString(stub.input.Key); got != "video/fixed.mp4" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := aws.ToString(stub.input.ContentType); got != "video/mp4" {
		t.Fatalf("unexpected content type %q", got)
	}
	if len(stub.body) != 64*1024 {
		t.Fatalf("expected full body to be uploaded, got %d bytes", len(stub.body))
	}

	if len(reports) == 0 {
		t.Fatal("expected progress reports")
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] <= reports[i-1] {
			t.Fatalf("progress not increasing: %v", reports)
		}
	}
	if last := reports[len(reports)-1]; last != 99 {
		t.Fatalf("expected progress to stop at 99 before acknowledgement, got %d", last)
	}
}

func TestS3TransportWithoutPublicBaseURL(t *testing.T) {
	path := writeCapture(t, "snap.PNG", 10)
	stub := &uploaderStub{}
	transport := newS3Transport(stub, "media", "")
	transport.keyFunc = func() string { return "k" }

	url, err := transport.Upload(context.Background(), models.MediaDescriptor{
		SourceURI: path,
		Kind:      models.MediaKindPhoto,
	}, nil)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "s3://media/photo/k.png" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestS3TransportErrors(t *testing.T) {
	transport := newS3Transport(&uploaderStub{}, "media", "")
	if _, err := transport.Upload(context.Background(), models.MediaDescriptor{SourceURI: "/does/not/exist.jpg", Kind: models.MediaKindPhoto}, nil); err == nil {
		t.Fatal("expected error for missing capture")
	}

	failing := &uploaderStub{err: errors.New("access denied")}
	transport = newS3Transport(failing, "media", "")
	path := writeCapture(t, "a.jpg", 5)
	if _, err := transport.Upload(context.Background(), models.MediaDescriptor{SourceURI: path, Kind: models.MediaKindPhoto}, nil); !errors.Is(err, failing.err) {
		t.Fatalf("expected wrapped uploader error, got %v", err)
	}
}
