package enums

import (
	"fmt"
	"strings"
)

// ShippingCarrier identifies the carrier that fulfills a shipment.
type ShippingCarrier string

const (
	ShippingCarrierUSPS  ShippingCarrier = "USPS"
	ShippingCarrierUPS   ShippingCarrier = "UPS"
	ShippingCarrierFedEx ShippingCarrier = "FEDEX"
	ShippingCarrierDHL   ShippingCarrier = "DHL"
	ShippingCarrierOther ShippingCarrier = "OTHER"
)

var validShippingCarriers = []ShippingCarrier{
	ShippingCarrierUSPS,
	ShippingCarrierUPS,
	ShippingCarrierFedEx,
	ShippingCarrierDHL,
	ShippingCarrierOther,
}

// String implements fmt.Stringer.
func (s ShippingCarrier) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShippingCarrier.
func (s ShippingCarrier) IsValid() bool {
	for _, candidate := range validShippingCarriers {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseShippingCarrier converts raw input into a ShippingCarrier. Unknown
// carrier names returned by the rate aggregator map to OTHER.
func ParseShippingCarrier(value string) (ShippingCarrier, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "" {
		return "", fmt.Errorf("shipping carrier is required")
	}
	for _, candidate := range validShippingCarriers {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return ShippingCarrierOther, nil
}
