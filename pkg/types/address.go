package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is the postal address collected by the payment provider and used
// for label purchase. Stored as jsonb on the order row.
type Address struct {
	Name    string `json:"name,omitempty"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Value implements driver.Valuer so an Address can be written through raw
// column assignments, not just full-struct saves.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Address) Scan(value any) error {
	if value == nil {
		*a = Address{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into Address", value)
	}
}

// IsZero reports whether no address fields are populated.
func (a Address) IsZero() bool {
	return a.Line1 == "" && a.City == "" && a.State == "" && a.Zip == "" && a.Country == ""
}

// Validate checks the fields a carrier needs before rate shopping.
func (a Address) Validate() []string {
	var missing []string
	if strings.TrimSpace(a.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(a.Zip) == "" {
		missing = append(missing, "zip")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	return missing
}
