package model

import (
	"fmt"
	"strings"
)

// Origin identifies the domain that produced a notification.
// The set of origins is closed; unknown values fail validation.
type Origin string

const (
	OriginTimeSeries     Origin = "TimeSeries"
	OriginCharges        Origin = "Charges"
	OriginMarketRoles    Origin = "MarketRoles"
	OriginMeteringPoints Origin = "MeteringPoints"
	OriginAggregations   Origin = "Aggregations"
)

// Origins returns all known origins in their fixed priority order.
func Origins() []Origin {
	return []Origin{
		OriginTimeSeries,
		OriginAggregations,
		OriginCharges,
		OriginMeteringPoints,
		OriginMarketRoles,
	}
}

// ParseOrigin resolves an origin name case-insensitively.
func ParseOrigin(s string) (Origin, error) {
	for _, o := range Origins() {
		if strings.EqualFold(string(o), s) {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown origin %q", s)
}

// IsValid reports whether o is one of the known origins.
func (o Origin) IsValid() bool {
	switch o {
	case OriginTimeSeries, OriginCharges, OriginMarketRoles, OriginMeteringPoints, OriginAggregations:
		return true
	}
	return false
}

// Validate implements validation.Validatable.
func (o Origin) Validate() error {
	if !o.IsValid() {
		return ErrUnknownOrigin
	}
	return nil
}

// QueueName returns the lower-case name used for the origin's bus queues.
func (o Origin) QueueName() string {
	return strings.ToLower(string(o))
}

func (o Origin) String() string {
	return string(o)
}
