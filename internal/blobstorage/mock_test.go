package blobstorage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, uploadID, partNumber, ttl)
	if fn, ok := args.Get(0).(func(context.Context, string, string, int32, time.Duration) string); ok {
		return fn(ctx, key, uploadID, partNumber, ttl), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

func (m *MockBackend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error {
	args := m.Called(ctx, key, uploadID, parts)
	return args.Error(0)
}

func (m *MockBackend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	args := m.Called(ctx, key, uploadID)
	return args.Error(0)
}

func (m *MockBackend) PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

func dialMock(b *MockBackend) Dialer {
	return func(context.Context) (Backend, error) { return b, nil }
}
