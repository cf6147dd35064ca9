package shipping

import (
	"context"
	"errors"
	"testing"

	"github.com/hollowpine/storefront-backend/pkg/config"
	"github.com/hollowpine/storefront-backend/pkg/enums"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/shippo"
	"github.com/hollowpine/storefront-backend/pkg/types"
)

type fakeCarrierAPI struct {
	validateResult *shippo.Address
	rates          []shippo.Rate
	purchases      []string
	results        map[string]*shippo.Transaction
	purchaseErr    map[string]error
}

func (f *fakeCarrierAPI) ValidateAddress(ctx context.Context, addr shippo.Address) (*shippo.Address, error) {
	if f.validateResult != nil {
		return f.validateResult, nil
	}
	addr.ValidationResults = &shippo.ValidationResults{IsValid: true}
	return &addr, nil
}

func (f *fakeCarrierAPI) CreateShipment(ctx context.Context, req shippo.ShipmentRequest) (*shippo.Shipment, error) {
	return &shippo.Shipment{ObjectID: "shipment_1", Rates: f.rates}, nil
}

func (f *fakeCarrierAPI) PurchaseLabel(ctx context.Context, rateID string) (*shippo.Transaction, error) {
	f.purchases = append(f.purchases, rateID)
	if err, ok := f.purchaseErr[rateID]; ok {
		return nil, err
	}
	if txn, ok := f.results[rateID]; ok {
		return txn, nil
	}
	return &shippo.Transaction{Status: "SUCCESS", TrackingNumber: "TRACK123", LabelURL: "https://labels/l.pdf"}, nil
}

func testShippoConfig() config.ShippoConfig {
	return config.ShippoConfig{
		PreferredCarrier: "USPS",
		FromName:         "Warehouse",
		FromStreet1:      "1 Dock Rd",
		FromCity:         "Reno",
		FromState:        "NV",
		FromZip:          "89501",
		FromCountry:      "US",
	}
}

func goodAddress() types.Address {
	return types.Address{
		Name:    "Sam Buyer",
		Line1:   "500 Market St",
		City:    "San Francisco",
		State:   "CA",
		Zip:     "94105",
		Country: "US",
	}
}

func newBroker(t *testing.T, api carrierAPI) *Broker {
	t.Helper()
	broker, err := NewBroker(api, testShippoConfig(), logger.New(logger.Options{ServiceName: "shipping-test"}), nil)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	return broker
}

func TestCreateLabelPrefersConfiguredCarrier(t *testing.T) {
	api := &fakeCarrierAPI{
		rates: []shippo.Rate{
			{ObjectID: "rate_fedex", Provider: "FedEx", Amount: "4.50"},
			{ObjectID: "rate_usps", Provider: "USPS", Amount: "7.10"},
		},
	}

	label, err := newBroker(t, api).CreateLabel(context.Background(), goodAddress(), "")
	if err != nil {
		t.Fatalf("create label: %v", err)
	}
	if len(api.purchases) != 1 || api.purchases[0] != "rate_usps" {
		t.Fatalf("expected preferred carrier first, got %v", api.purchases)
	}
	if label.Carrier != enums.ShippingCarrierUSPS {
		t.Fatalf("unexpected carrier %s", label.Carrier)
	}
	if label.AmountCents != 710 {
		t.Fatalf("unexpected amount %d", label.AmountCents)
	}
	if label.TrackingNumber != "TRACK123" {
		t.Fatalf("unexpected tracking %q", label.TrackingNumber)
	}
}

func TestCreateLabelOperatorCarrierOverride(t *testing.T) {
	api := &fakeCarrierAPI{
		rates: []shippo.Rate{
			{ObjectID: "rate_usps", Provider: "USPS", Amount: "3.90"},
			{ObjectID: "rate_ups", Provider: "UPS", Amount: "6.40"},
		},
	}

	label, err := newBroker(t, api).CreateLabel(context.Background(), goodAddress(), "ups")
	if err != nil {
		t.Fatalf("create label: %v", err)
	}
	if len(api.purchases) != 1 || api.purchases[0] != "rate_ups" {
		t.Fatalf("expected override carrier first, got %v", api.purchases)
	}
	if label.Carrier != enums.ShippingCarrierUPS {
		t.Fatalf("unexpected carrier %s", label.Carrier)
	}
}

func TestCreateLabelFallsThroughFailedRates(t *testing.T) {
	api := &fakeCarrierAPI{
		rates: []shippo.Rate{
			{ObjectID: "rate_usps", Provider: "USPS", Amount: "7.10"},
			{ObjectID: "rate_ups", Provider: "UPS", Amount: "5.20"},
			{ObjectID: "rate_fedex", Provider: "FedEx", Amount: "6.00"},
		},
		purchaseErr: map[string]error{"rate_usps": errors.New("carrier outage")},
		results: map[string]*shippo.Transaction{
			"rate_ups": {Status: "ERROR", Messages: []shippo.ValidationMessage{{Text: "account hold"}}},
		},
	}

	label, err := newBroker(t, api).CreateLabel(context.Background(), goodAddress(), "")
	if err != nil {
		t.Fatalf("create label: %v", err)
	}
	want := []string{"rate_usps", "rate_ups", "rate_fedex"}
	if len(api.purchases) != 3 {
		t.Fatalf("expected 3 purchase attempts, got %v", api.purchases)
	}
	for i, id := range want {
		if api.purchases[i] != id {
			t.Fatalf("attempt %d: expected %s, got %s", i, id, api.purchases[i])
		}
	}
	if label.Carrier != enums.ShippingCarrierFedEx {
		t.Fatalf("unexpected carrier %s", label.Carrier)
	}
}

func TestCreateLabelAllRatesExhausted(t *testing.T) {
	api := &fakeCarrierAPI{
		rates:       []shippo.Rate{{ObjectID: "rate_1", Provider: "UPS", Amount: "5.00"}},
		purchaseErr: map[string]error{"rate_1": errors.New("down")},
	}

	_, err := newBroker(t, api).CreateLabel(context.Background(), goodAddress(), "")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateLabelRejectsInvalidAddress(t *testing.T) {
	api := &fakeCarrierAPI{
		validateResult: &shippo.Address{
			ValidationResults: &shippo.ValidationResults{
				IsValid:  false,
				Messages: []shippo.ValidationMessage{{Text: "unknown street"}},
			},
		},
	}

	_, err := newBroker(t, api).CreateLabel(context.Background(), goodAddress(), "")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateLabelRejectsIncompleteAddress(t *testing.T) {
	_, err := newBroker(t, &fakeCarrierAPI{}).CreateLabel(context.Background(), types.Address{Name: "x"}, "")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}
