package mocks

import (
	"context"
	"io"

	"remote-cache/core/backing"

	"github.com/stretchr/testify/mock"
)

// Store is a mock implementation of backing.Store
type Store struct {
	mock.Mock
}

func (m *Store) List(ctx context.Context, fn backing.ListFunc) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *Store) Stat(ctx context.Context, key string) (backing.EntryInfo, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(backing.EntryInfo), args.Error(1)
}

func (m *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if rc, ok := args.Get(0).(io.ReadCloser); ok {
		return rc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Store) Write(ctx context.Context, key string, r io.Reader, size int64) error {
	args := m.Called(ctx, key, r, size)
	return args.Error(0)
}
