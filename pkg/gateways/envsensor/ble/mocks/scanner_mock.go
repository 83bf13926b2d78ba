package mocks

import (
	"context"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/stretchr/testify/mock"
)

type ScannerMock struct {
	mock.Mock
}

func (s *ScannerMock) Scan(ctx context.Context, window time.Duration) ([]entities.Advertisement, error) {
	args := s.Called(ctx, window)
	advertisements, _ := args.Get(0).([]entities.Advertisement)
	return advertisements, args.Error(1)
}
