package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3BlobStore_RoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := &S3BlobStore{client: fake, bucket: "vaultsync"}
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "vaults/a", []byte("payload")))
	assert.Contains(t, fake.objects, "vaultsync/vaults/a")

	got, err := s.Get(ctx, "vaults/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, s.Delete(ctx, "vaults/a"))
	_, err = s.Get(ctx, "vaults/a")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestS3BlobStore_PutError(t *testing.T) {
	s := &S3BlobStore{client: &fakeS3{objects: map[string][]byte{}, err: errors.New("boom")}, bucket: "b"}
	err := s.Put(context.Background(), "k", []byte("x"))
	assert.ErrorContains(t, err, "put object k: boom")
}

func TestNewS3BlobStore(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() { loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew })

	var opts s3.Options
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-central-1", lo.Region)
		return aws.Config{Region: lo.Region}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &fakeS3{objects: map[string][]byte{}}
	}

	s, err := NewS3BlobStore(context.Background(), S3Options{
		Region: "eu-central-1", Bucket: "vaultsync", BaseEndpoint: "http://minio:9000",
	})
	require.NoError(t, err)
	assert.Equal(t, "vaultsync", s.bucket)
	assert.Equal(t, "http://minio:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err = NewS3BlobStore(context.Background(), S3Options{})
	assert.ErrorContains(t, err, "no config")
}

func TestMemoryBlobStore(t *testing.T) {
	m := NewMemoryBlobStore()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
