package ble

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

const (
	manufacturerDataType uint8 = 0xff
	stopScanRetry              = 50 * time.Millisecond
)

// radio is the part of *bluetooth.Adapter the scanner drives.
type radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// AdapterScanner scans with the host's default bluetooth adapter.
type AdapterScanner struct {
	adapter   radio
	name      string
	log       *logrus.Entry
	stopRetry time.Duration
}

func NewAdapterScanner(name string, log *logrus.Entry) *AdapterScanner {
	return &AdapterScanner{
		adapter:   bluetooth.DefaultAdapter,
		name:      name,
		log:       log,
		stopRetry: stopScanRetry,
	}
}

func (s *AdapterScanner) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return errors.Wrapf(ErrScanTransport, "enable adapter %s: %v", s.name, err)
	}
	s.log.Infof("bluetooth adapter %s enabled", s.name)
	return nil
}

func (s *AdapterScanner) Scan(ctx context.Context, window time.Duration) ([]entities.Advertisement, error) {
	heard := newCollector()

	finished := make(chan struct{})
	defer close(finished)
	go s.stopAfter(ctx, window, finished)

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		var fields []entities.ScanField
		for _, entry := range result.ManufacturerData() {
			fields = append(fields, manufacturerField(entry.CompanyID, entry.Data))
		}
		heard.add(result.Address.String(), result.RSSI, fields)
	})
	if err != nil {
		return nil, errors.Wrapf(ErrScanTransport, "scan on %s: %v", s.name, err)
	}
	return heard.list(), nil
}

// stopAfter ends the scan when the window elapses or ctx is cancelled. The
// adapter refuses StopScan until Scan is running, so it is retried until
// Scan returns.
func (s *AdapterScanner) stopAfter(ctx context.Context, window time.Duration, finished <-chan struct{}) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-finished:
		return
	}

	retry := time.NewTicker(s.stopRetry)
	defer retry.Stop()
	for {
		err := s.adapter.StopScan()
		if err == nil {
			return
		}
		s.log.Debugf("stop scan: %v", err)
		select {
		case <-finished:
			return
		case <-retry.C:
		}
	}
}

// manufacturerField renders manufacturer data the way it appears on air:
// company identifier in little-endian order followed by the payload, hex
// encoded.
func manufacturerField(companyID uint16, data []byte) entities.ScanField {
	raw := make([]byte, 0, len(data)+2)
	raw = append(raw, byte(companyID), byte(companyID>>8))
	raw = append(raw, data...)
	return entities.ScanField{
		Type:        manufacturerDataType,
		Description: entities.ManufacturerDescription,
		Value:       hex.EncodeToString(raw),
	}
}

// collector keeps one record per address and advertised data, so a device
// that changes its payload mid-window is reported once per distinct payload.
type collector struct {
	mu      sync.Mutex
	records []entities.Advertisement
	last    map[string]int
}

func newCollector() *collector {
	return &collector{last: make(map[string]int)}
}

func (c *collector) add(address string, rssi int16, fields []entities.ScanField) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, seen := c.last[address]; seen {
		if len(fields) == 0 || sameFields(c.records[i].Fields, fields) {
			c.records[i].RSSI = rssi
			return
		}
	}
	c.last[address] = len(c.records)
	c.records = append(c.records, entities.Advertisement{
		Address: address,
		RSSI:    rssi,
		Fields:  fields,
	})
}

func (c *collector) list() []entities.Advertisement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entities.Advertisement, len(c.records))
	copy(out, c.records)
	return out
}

func sameFields(a, b []entities.ScanField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
