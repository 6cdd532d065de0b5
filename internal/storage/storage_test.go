package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONRoundTripOnMemoryStorage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage("")

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, PutJSON(ctx, store, "a/b.json", doc{Name: "x", Count: 2}))

	require.Equal(t, []string{"a/b.json"}, store.Keys())

	var got doc
	require.NoError(t, GetJSON(ctx, store, "a/b.json", &got))
	require.Equal(t, doc{Name: "x", Count: 2}, got)

	require.NoError(t, store.Delete(ctx, "a/b.json"))
	require.ErrorIs(t, GetJSON(ctx, store, "a/b.json", &got), ErrObjectNotFound)
	require.Empty(t, store.Keys())
}

func TestNewStorage_Memory(t *testing.T) {
	s, err := NewStorage(context.Background(), &S3Config{Type: StorageTypeMemory, PublicURL: "http://local/"})
	require.NoError(t, err)
	require.Equal(t, "http://local/k", s.GetURL("k"))
}

func TestDetectStorageType(t *testing.T) {
	tests := map[string]StorageType{
		"abc.r2.cloudflarestorage.com": StorageTypeR2,
		"s3.us-east-1.amazonaws.com":   StorageTypeS3,
		"localhost:9000":               StorageTypeS3Compatible,
	}
	for endpoint, want := range tests {
		t.Run(endpoint, func(t *testing.T) {
			require.Equal(t, want, detectStorageType(endpoint))
		})
	}
}

func TestEndpointAndRegion(t *testing.T) {
	require.Equal(t, "https://abc.r2.cloudflarestorage.com", endpointURL(&S3Config{Endpoint: "https://abc.r2.cloudflarestorage.com/", UseSSL: true}))
	require.Equal(t, "http://localhost:9000", endpointURL(&S3Config{Endpoint: "localhost:9000"}))

	require.Equal(t, "auto", region(&S3Config{Type: StorageTypeR2}))
	require.Equal(t, "us-east-1", region(&S3Config{Type: StorageTypeS3Compatible}))
	require.Equal(t, "eu-west-1", region(&S3Config{Type: StorageTypeR2, Region: "eu-west-1"}))
}

func TestNormalizeEndpoint(t *testing.T) {
	require.Equal(t, "minio:9000", normalizeEndpoint("http://minio:9000/bucket/"))
	require.Equal(t, "s3.amazonaws.com", normalizeEndpoint("https://s3.amazonaws.com"))
}
