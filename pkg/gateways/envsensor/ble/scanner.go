// Package ble discovers advertisements from nearby BLE peripherals.
package ble

import (
	"context"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/pkg/errors"
)

// ErrScanTransport reports that the radio could not complete a scan window.
var ErrScanTransport = errors.New("scan transport error")

// Scanner collects the advertisements heard during one window, in the order
// they were heard. Repeats of identical data from an address are folded.
type Scanner interface {
	Scan(ctx context.Context, window time.Duration) ([]entities.Advertisement, error)
}
