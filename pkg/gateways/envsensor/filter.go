package envsensor

import (
	"strconv"

	bloomFilter "github.com/bits-and-blooms/bloom/v3"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/utils"
	"github.com/pkg/errors"
)

const (
	FILTER_CAPACITY               = "1000000"
	DUPLICATION_PROBABILITY       = "0.01"
	RESET_FILTER_USAGE_PERCENTAGE = "0.75"
)

// foreignFilter remembers unregistered addresses so each one is traced once.
type foreignFilter struct {
	filter                       *bloomFilter.BloomFilter
	filterCapacity               uint
	maximumPercentageFilterUsage float64
}

func newForeignFilter() (*foreignFilter, error) {
	filterCapacity, err := strconv.ParseUint(utils.GetValueFromEnvironmentVariable("FILTER_CAPACITY", FILTER_CAPACITY), 10, 0)
	if err != nil || filterCapacity == 0 {
		return nil, errors.Errorf("FILTER_CAPACITY environment variable with invalid value")
	}
	duplicationProbability, err := strconv.ParseFloat(utils.GetValueFromEnvironmentVariable("DUPLICATION_PROBABILITY", DUPLICATION_PROBABILITY), 64)
	if err != nil || duplicationProbability <= 0 || duplicationProbability >= 1 {
		return nil, errors.Errorf("DUPLICATION_PROBABILITY environment variable with invalid value")
	}
	maximumUsage, err := strconv.ParseFloat(utils.GetValueFromEnvironmentVariable("RESET_FILTER_USAGE_PERCENTAGE", RESET_FILTER_USAGE_PERCENTAGE), 64)
	if err != nil || maximumUsage <= 0 {
		return nil, errors.Errorf("RESET_FILTER_USAGE_PERCENTAGE environment variable with invalid value")
	}
	return &foreignFilter{
		filter:                       bloomFilter.NewWithEstimates(uint(filterCapacity), duplicationProbability),
		filterCapacity:               uint(filterCapacity),
		maximumPercentageFilterUsage: maximumUsage,
	}, nil
}

// firstSighting reports whether address has not been seen since the last
// reset, and remembers it.
func (f *foreignFilter) firstSighting(address string) bool {
	if f.filter.TestString(address) {
		return false
	}
	f.resetIfSaturated()
	f.filter.AddString(address)
	return true
}

func (f *foreignFilter) usage() float64 {
	return float64(f.filter.ApproximatedSize()) / float64(f.filterCapacity)
}

func (f *foreignFilter) resetIfSaturated() {
	if f.usage() >= f.maximumPercentageFilterUsage {
		f.filter.ClearAll()
	}
}
