package envsensor

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/decoder"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/delivery"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor/ble"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor/ble/mocks"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const sensorAddress = "AA:BB:CC:DD:EE:FF"

var sensorReading = entities.Reading{
	Temperature:       25,
	Humidity:          60,
	Pressure:          1013,
	SystemTemperature: 32,
	BatteryVoltage:    3.7,
}

type recordingSink struct {
	mu   sync.Mutex
	err  error
	sent []sentFields
}

type sentFields struct {
	device entities.Device
	fields entities.Fields
}

func (s *recordingSink) Send(ctx context.Context, device entities.Device, fields entities.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentFields{device: device, fields: fields})
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) sends() []sentFields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFields(nil), s.sent...)
}

type scanStep func(ctx context.Context) ([]entities.Advertisement, error)

// scriptedScanner plays one step per scan window and cancels the run when
// the script is exhausted.
type scriptedScanner struct {
	steps  []scanStep
	cancel context.CancelFunc
	calls  int
}

func (s *scriptedScanner) Scan(ctx context.Context, window time.Duration) ([]entities.Advertisement, error) {
	if s.calls >= len(s.steps) {
		s.cancel()
		return nil, nil
	}
	step := s.steps[s.calls]
	s.calls++
	return step(ctx)
}

func sensorAdvertisement(address, sequence string, reading entities.Reading) entities.Advertisement {
	return entities.Advertisement{
		Address: address,
		RSSI:    -70,
		Fields: []entities.ScanField{
			{Type: 0x09, Description: "Complete Local Name", Value: "EnvSensor-BL01"},
			{Type: 0xff, Description: entities.ManufacturerDescription, Value: ManufacturerMarker + sequence + hex.EncodeToString(decoder.Encode(reading))},
		},
	}
}

type gatewaySuite struct {
	suite.Suite
	sink    *recordingSink
	scanner *scriptedScanner
	gateway *Gateway
	hook    *test.Hook
	ctx     context.Context
	clock   time.Time
}

func (s *gatewaySuite) SetupTest() {
	var cancel context.CancelFunc
	s.ctx, cancel = context.WithCancel(context.Background())
	s.sink = &recordingSink{}
	s.scanner = &scriptedScanner{cancel: cancel}
	s.clock = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s.hook = hook

	conf := entities.Configuration{
		Devices: map[string]entities.Device{
			sensorAddress: {ChannelID: "123", WriteKey: "k"},
		},
		Scan:     entities.ScanConfig{Window: 5 * time.Second},
		Delivery: entities.DeliveryConfig{QueueSize: 4},
	}
	gateway, err := New(conf, s.scanner, s.sink, logrus.NewEntry(logger))
	s.Require().NoError(err)
	gateway.now = func() time.Time { return s.clock }
	gateway.scanErrPause = 0
	s.gateway = gateway
}

func (s *gatewaySuite) at(offset time.Duration, advertisements ...entities.Advertisement) scanStep {
	start := s.clock
	return func(context.Context) ([]entities.Advertisement, error) {
		s.clock = start.Add(offset)
		return advertisements, nil
	}
}

// waitResults holds the scan loop until n delivery results are queued.
func (s *gatewaySuite) waitResults(n int) scanStep {
	return func(context.Context) ([]entities.Advertisement, error) {
		s.Require().Eventually(func() bool {
			return len(s.gateway.results) >= n
		}, 2*time.Second, 5*time.Millisecond)
		return nil, nil
	}
}

func (s *gatewaySuite) TestDuplicateSuppressionScenario() {
	next := sensorReading
	next.Temperature = 25.5
	s.scanner.steps = []scanStep{
		s.at(0, sensorAdvertisement(sensorAddress, "01", sensorReading)),
		s.at(5*time.Second, sensorAdvertisement(sensorAddress, "01", sensorReading)),
		s.at(12*time.Second, sensorAdvertisement(sensorAddress, "02", next)),
		s.waitResults(2),
	}

	s.NoError(s.gateway.Run(s.ctx))

	sends := s.sink.sends()
	s.Require().Len(sends, 2)
	s.Equal(entities.Device{ChannelID: "123", WriteKey: "k"}, sends[0].device)
	s.Equal(entities.Fields{"d1": 25.0, "d2": 60.0, "d3": 1013.0, "d4": 32.0, "d5": 3.7}, sends[0].fields)
	s.Equal(25.5, sends[1].fields["d1"])

	stats := s.gateway.Stats()
	s.Equal(uint64(2), stats.Accepted)
	s.Equal(uint64(1), stats.Rejected)
	s.Equal(uint64(2), stats.Delivered)
	s.Equal(uint64(0), stats.Dropped)

	state, ok := s.gateway.Tracker().Lookup(sensorAddress)
	s.Require().True(ok)
	sequence, _ := state.LastSequence()
	s.Equal("02", sequence)
}

func (s *gatewaySuite) TestUnregisteredAddressCreatesNoState() {
	foreign := sensorAdvertisement("11:22:33:44:55:66", "01", sensorReading)
	s.scanner.steps = []scanStep{
		s.at(0, foreign),
		s.at(20*time.Second, foreign),
	}

	s.NoError(s.gateway.Run(s.ctx))

	s.Equal(0, s.gateway.Tracker().Len())
	s.Empty(s.sink.sends())
	s.Equal(uint64(2), s.gateway.Stats().Unknown)

	traces := 0
	for _, entry := range s.hook.AllEntries() {
		if strings.HasPrefix(entry.Message, "ignoring unregistered device") {
			traces++
		}
	}
	s.Equal(1, traces)
}

func (s *gatewaySuite) TestScanErrorsDoNotStopTheLoop() {
	s.scanner.steps = []scanStep{
		func(context.Context) ([]entities.Advertisement, error) {
			return nil, pkgerrors.Wrap(ble.ErrScanTransport, "adapter busy")
		},
		s.at(0, sensorAdvertisement(sensorAddress, "01", sensorReading)),
		s.waitResults(1),
	}

	s.NoError(s.gateway.Run(s.ctx))

	stats := s.gateway.Stats()
	s.Equal(uint64(1), stats.ScanErrors)
	s.Equal(uint64(1), stats.Accepted)
	s.Equal(uint64(1), stats.Delivered)
	s.Len(s.sink.sends(), 1)
}

func (s *gatewaySuite) TestMalformedPayloadIsDiscarded() {
	broken := entities.Advertisement{
		Address: sensorAddress,
		Fields: []entities.ScanField{
			{Type: 0xff, Description: entities.ManufacturerDescription, Value: "ffff01c409"},
		},
	}
	s.scanner.steps = []scanStep{s.at(0, broken)}

	s.NoError(s.gateway.Run(s.ctx))

	stats := s.gateway.Stats()
	s.Equal(uint64(1), stats.Accepted)
	s.Equal(uint64(1), stats.Malformed)
	s.Empty(s.sink.sends())
}

func (s *gatewaySuite) TestNonTransportDeliveryErrorStopsTheLoop() {
	s.sink.err = errors.New("cannot encode reading")
	s.scanner.steps = []scanStep{
		s.at(0, sensorAdvertisement(sensorAddress, "01", sensorReading)),
		s.waitResults(1),
	}

	err := s.gateway.Run(s.ctx)
	s.Error(err)
	s.Contains(err.Error(), "cannot encode reading")
	s.Equal(uint64(1), s.gateway.Stats().Dropped)
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(gatewaySuite))
}

func TestRecordCountsOutcomes(t *testing.T) {
	gateway, err := New(entities.Configuration{}, &scriptedScanner{}, &recordingSink{}, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	assert.NoError(t, gateway.record(delivery.Result{Outcome: delivery.Delivered}))
	assert.NoError(t, gateway.record(delivery.Result{Outcome: delivery.Dropped}))
	assert.Error(t, gateway.record(delivery.Result{Outcome: delivery.Dropped, Err: errors.New("bug")}))

	stats := gateway.Stats()
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestRunStopsQuietlyWhenCancelledDuringScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scanner := new(mocks.ScannerMock)
	scanner.On("Scan", mock.Anything, 5*time.Second).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, pkgerrors.Wrap(ble.ErrScanTransport, "interrupted")).
		Once()

	conf := entities.Configuration{Scan: entities.ScanConfig{Window: 5 * time.Second}}
	gateway, err := New(conf, scanner, &recordingSink{}, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	assert.NoError(t, gateway.Run(ctx))
	stats := gateway.Stats()
	assert.Equal(t, uint64(1), stats.Scans)
	assert.Equal(t, uint64(0), stats.ScanErrors)
	scanner.AssertExpectations(t)
}
