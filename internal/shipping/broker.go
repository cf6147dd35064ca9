package shipping

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hollowpine/storefront-backend/pkg/config"
	"github.com/hollowpine/storefront-backend/pkg/enums"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/metrics"
	"github.com/hollowpine/storefront-backend/pkg/shippo"
	"github.com/hollowpine/storefront-backend/pkg/types"
)

type carrierAPI interface {
	ValidateAddress(ctx context.Context, addr shippo.Address) (*shippo.Address, error)
	CreateShipment(ctx context.Context, req shippo.ShipmentRequest) (*shippo.Shipment, error)
	PurchaseLabel(ctx context.Context, rateID string) (*shippo.Transaction, error)
}

// Default parcel for the storefront's single box size.
var defaultParcel = shippo.Parcel{
	Length:       "12",
	Width:        "9",
	Height:       "4",
	DistanceUnit: "in",
	Weight:       "24",
	MassUnit:     "oz",
}

// Label is the outcome of a successful purchase.
type Label struct {
	TrackingNumber string
	TrackingURL    string
	LabelURL       string
	Carrier        enums.ShippingCarrier
	AmountCents    int
}

// Broker shops rates across carriers and buys the label for an order. Rates
// are tried cheapest first, preferring the configured carrier; when a
// purchase fails the broker falls through to the next rate instead of
// failing the shipment outright.
type Broker struct {
	api       carrierAPI
	origin    shippo.Address
	preferred string
	logg      *logger.Logger
	metrics   *metrics.FulfillmentMetrics
}

// NewBroker builds a label broker from the warehouse config.
func NewBroker(api carrierAPI, cfg config.ShippoConfig, logg *logger.Logger, m *metrics.FulfillmentMetrics) (*Broker, error) {
	if api == nil {
		return nil, fmt.Errorf("carrier api required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.FromStreet1 == "" || cfg.FromCity == "" || cfg.FromZip == "" {
		return nil, fmt.Errorf("warehouse origin address is incomplete")
	}
	return &Broker{
		api: api,
		origin: shippo.Address{
			Name:    cfg.FromName,
			Street1: cfg.FromStreet1,
			City:    cfg.FromCity,
			State:   cfg.FromState,
			Zip:     cfg.FromZip,
			Country: cfg.FromCountry,
		},
		preferred: strings.ToUpper(strings.TrimSpace(cfg.PreferredCarrier)),
		logg:      logg,
		metrics:   m,
	}, nil
}

// CreateLabel validates the destination, shops rates, and purchases a label.
// preferredCarrier overrides the configured default when non-empty.
func (b *Broker) CreateLabel(ctx context.Context, dest types.Address, preferredCarrier string) (*Label, error) {
	if missing := dest.Validate(); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete").
			WithDetails(map[string]any{"missing": missing})
	}

	destAddr := shippo.Address{
		Name:    dest.Name,
		Street1: dest.Line1,
		Street2: dest.Line2,
		City:    dest.City,
		State:   dest.State,
		Zip:     dest.Zip,
		Country: dest.Country,
		Phone:   dest.Phone,
		Email:   dest.Email,
	}

	validated, err := b.api.ValidateAddress(ctx, destAddr)
	if err != nil {
		return nil, err
	}
	if validated.ValidationResults != nil && !validated.ValidationResults.IsValid {
		reasons := make([]string, 0, len(validated.ValidationResults.Messages))
		for _, msg := range validated.ValidationResults.Messages {
			reasons = append(reasons, msg.Text)
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address failed carrier validation").
			WithDetails(map[string]any{"reasons": reasons})
	}

	shipment, err := b.api.CreateShipment(ctx, shippo.ShipmentRequest{
		AddressFrom: b.origin,
		AddressTo:   destAddr,
		Parcels:     []shippo.Parcel{defaultParcel},
	})
	if err != nil {
		return nil, err
	}
	if len(shipment.Rates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "no shipping rates returned")
	}

	preferred := strings.ToUpper(strings.TrimSpace(preferredCarrier))
	if preferred == "" {
		preferred = b.preferred
	}

	for _, rate := range b.orderRates(shipment.Rates, preferred) {
		txn, err := b.api.PurchaseLabel(ctx, rate.ObjectID)
		if err != nil {
			b.metrics.IncLabelPurchase(rate.Provider, "error")
			b.logg.Warn(ctx, fmt.Sprintf("label purchase failed for %s rate %s: %v", rate.Provider, rate.ObjectID, err))
			continue
		}
		if !txn.Succeeded() {
			b.metrics.IncLabelPurchase(rate.Provider, "rejected")
			b.logg.Warn(ctx, fmt.Sprintf("label purchase rejected for %s rate %s: %s", rate.Provider, rate.ObjectID, txn.ErrorText()))
			continue
		}

		b.metrics.IncLabelPurchase(rate.Provider, "success")
		carrier, err := enums.ParseShippingCarrier(rate.Provider)
		if err != nil {
			carrier = enums.ShippingCarrierOther
		}
		return &Label{
			TrackingNumber: txn.TrackingNumber,
			TrackingURL:    txn.TrackingURL,
			LabelURL:       txn.LabelURL,
			Carrier:        carrier,
			AmountCents:    amountToCents(rate.Amount),
		}, nil
	}

	return nil, pkgerrors.New(pkgerrors.CodeDependency, "every rate purchase attempt failed")
}

// orderRates sorts cheapest first, with the preferred carrier's rates ahead
// of equally-priced alternatives.
func (b *Broker) orderRates(rates []shippo.Rate, preferred string) []shippo.Rate {
	ordered := make([]shippo.Rate, len(rates))
	copy(ordered, rates)

	sort.SliceStable(ordered, func(i, j int) bool {
		pi := strings.EqualFold(ordered[i].Provider, preferred)
		pj := strings.EqualFold(ordered[j].Provider, preferred)
		if pi != pj {
			return pi
		}
		return amountToCents(ordered[i].Amount) < amountToCents(ordered[j].Amount)
	})
	return ordered
}

func amountToCents(amount string) int {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0
	}
	return int(value.Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}
