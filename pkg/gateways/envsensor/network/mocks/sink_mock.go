package mocks

import (
	"context"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/stretchr/testify/mock"
)

type SinkMock struct {
	mock.Mock
}

func (s *SinkMock) Send(ctx context.Context, device entities.Device, fields entities.Fields) error {
	args := s.Called(device, fields)
	return args.Error(0)
}

func (s *SinkMock) Close() error {
	args := s.Called()
	return args.Error(0)
}
