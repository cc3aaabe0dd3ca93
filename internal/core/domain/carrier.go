package domain

import (
	"regexp"
	"strings"
)

// Carrier identifies one of the supported carrier tracking APIs.
type Carrier string

const (
	CarrierFedEx      Carrier = "FEDEX"
	CarrierUPS        Carrier = "UPS"
	CarrierDHL        Carrier = "DHL"
	CarrierUSPS       Carrier = "USPS"
	CarrierCanadaPost Carrier = "CANADA_POST"
	CarrierPurolator  Carrier = "PUROLATOR"
)

// Carriers lists every supported carrier in a stable order.
var Carriers = []Carrier{
	CarrierFedEx,
	CarrierUPS,
	CarrierDHL,
	CarrierUSPS,
	CarrierCanadaPost,
	CarrierPurolator,
}

// Valid reports whether c is one of the supported carriers.
func (c Carrier) Valid() bool {
	for _, known := range Carriers {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCarrier accepts the canonical names plus the lowercase and dashed
// spellings used in URLs (e.g. "canada-post").
func ParseCarrier(s string) (Carrier, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if norm == "CANADAPOST" {
		norm = string(CarrierCanadaPost)
	}
	c := Carrier(norm)
	if !c.Valid() {
		return "", ErrUnknownCarrier
	}
	return c, nil
}

var (
	fedexPattern      = regexp.MustCompile(`^(\d{12}|\d{14}|\d{15}|\d{20}|\d{22})$`)
	upsPattern        = regexp.MustCompile(`^1Z[0-9A-Z]{16}$`)
	dhlPattern        = regexp.MustCompile(`^\d{10,11}$`)
	uspsPattern       = regexp.MustCompile(`^(9[2-5]\d{20}|[A-Z]{2}\d{9}US)$`)
	canadaPostPattern = regexp.MustCompile(`^(\d{16}|[A-Z]{2}\d{9}CA)$`)
	purolatorPattern  = regexp.MustCompile(`^[A-Z]{3}\d{9}$`)
)

// NormalizeTrackingNumber strips whitespace and upper-cases the number.
func NormalizeTrackingNumber(tn string) string {
	return strings.ToUpper(strings.Join(strings.Fields(tn), ""))
}

// DetectCarrier guesses the carrier from the tracking number format.
// Ambiguous or unknown formats return ErrUnknownCarrier.
func DetectCarrier(trackingNumber string) (Carrier, error) {
	tn := NormalizeTrackingNumber(trackingNumber)
	switch {
	case tn == "":
		return "", ErrInvalidTrackingNumber
	case upsPattern.MatchString(tn):
		return CarrierUPS, nil
	case uspsPattern.MatchString(tn):
		return CarrierUSPS, nil
	case canadaPostPattern.MatchString(tn):
		return CarrierCanadaPost, nil
	case purolatorPattern.MatchString(tn):
		return CarrierPurolator, nil
	case fedexPattern.MatchString(tn):
		return CarrierFedEx, nil
	case dhlPattern.MatchString(tn):
		return CarrierDHL, nil
	}
	return "", ErrUnknownCarrier
}

// RecordRef identifies a tracking record: the unit of consistency.
type RecordRef struct {
	TrackingNumber string  `json:"tracking_number" bson:"tracking_number"`
	Carrier        Carrier `json:"carrier" bson:"carrier"`
}

// Key returns a stable string form, e.g. "UPS:1Z999AA10123456784".
func (r RecordRef) Key() string {
	return string(r.Carrier) + ":" + r.TrackingNumber
}

func (r RecordRef) String() string { return r.Key() }

// Validate checks the identity fields.
func (r RecordRef) Validate() error {
	if strings.TrimSpace(r.TrackingNumber) == "" {
		return ErrInvalidTrackingNumber
	}
	if !r.Carrier.Valid() {
		return ErrUnknownCarrier
	}
	return nil
}
