package directory

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

// MockService mocks the interfaces.DirectoryService interface.
type MockService struct {
	mock.Mock
}

// GetUsers mocks the GetUsers method.
func (m *MockService) GetUsers(ctx context.Context) ([]interfaces.DirectoryUser, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.DirectoryUser), args.Error(1)
}

// GetUsersByGroupKey mocks the GetUsersByGroupKey method.
func (m *MockService) GetUsersByGroupKey(ctx context.Context, groupKey string) ([]interfaces.DirectoryUser, error) {
	args := m.Called(ctx, groupKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.DirectoryUser), args.Error(1)
}

// GetUserAsList mocks the GetUserAsList method.
func (m *MockService) GetUserAsList(ctx context.Context, userKey string) ([]interfaces.DirectoryUser, error) {
	args := m.Called(ctx, userKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.DirectoryUser), args.Error(1)
}

// WatchUsers mocks the WatchUsers method.
func (m *MockService) WatchUsers(ctx context.Context, kind interfaces.WatchKind) error {
	args := m.Called(ctx, kind)
	return args.Error(0)
}
