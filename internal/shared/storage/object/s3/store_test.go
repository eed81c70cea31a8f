package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"compat-backend/internal/shared/storage/object"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "workspaces/ws-1/reports/r1.json", want: "workspaces/ws-1/reports/r1.json"},
		{name: "simple prefix", prefix: "root", key: "workspaces/ws-1/reports/r1.json", want: "root/workspaces/ws-1/reports/r1.json"},
		{name: "prefix trailing slash", prefix: "root/", key: "workspaces/ws-1/reports/r1.json", want: "root/workspaces/ws-1/reports/r1.json"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/workspaces/ws-1/reports/r1.json", want: "root/workspaces/ws-1/reports/r1.json"},
		{name: "nested prefix", prefix: "root/sub", key: "workspaces/ws-1/reports/r1.json", want: "root/sub/workspaces/ws-1/reports/r1.json"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	objects map[string][]byte
	lastPut *s3.PutObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	f.lastPut = params
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestStoreRoundTripWithPrefix(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := NewWithClient(client, "bucket", "/archive/", "")

	n, err := store.SaveWithKey(context.Background(), "workspaces/ws-1/reports/r1.json", "application/json", strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("SaveWithKey: %v", err)
	}
	if n != int64(len(`{"ok":true}`)) {
		t.Fatalf("unexpected size %d", n)
	}
	if _, ok := client.objects["archive/workspaces/ws-1/reports/r1.json"]; !ok {
		t.Fatalf("expected prefixed key, got %v", client.objects)
	}
	if client.lastPut.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 encryption without kms key")
	}

	body, err := store.Open(context.Background(), "workspaces/ws-1/reports/r1.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestStoreOpenMissingMapsToNotFound(t *testing.T) {
	store := NewWithClient(&fakeS3{objects: map[string][]byte{}}, "bucket", "", "kms-1")

	_, err := store.Open(context.Background(), "workspaces/ws-1/reports/none.json")
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected object.ErrNotFound, got %v", err)
	}
}

func TestStoreUsesKMSWhenConfigured(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := NewWithClient(client, "bucket", "", "kms-1")

	if _, err := store.SaveWithKey(context.Background(), "k.json", "application/json", strings.NewReader("{}")); err != nil {
		t.Fatalf("SaveWithKey: %v", err)
	}
	if client.lastPut.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms {
		t.Fatalf("expected aws:kms encryption")
	}
	if aws.ToString(client.lastPut.SSEKMSKeyId) != "kms-1" {
		t.Fatalf("unexpected kms key id %q", aws.ToString(client.lastPut.SSEKMSKeyId))
	}
}
