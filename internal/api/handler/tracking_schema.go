package handler

import "github.com/99minutos/tracking-sync/internal/core/domain"

type trackRequest struct {
	TrackingNumber          string            `json:"tracking_number"          validate:"required,max=64"`
	Carrier                 string            `json:"carrier"                  validate:"omitempty,max=32"`
	CheckFrequency          int               `json:"check_frequency"          validate:"omitempty,min=1,max=1440"`
	NotificationPreferences map[string]bool   `json:"notification_preferences"`
	NotificationEndpoints   map[string]string `json:"notification_endpoints"   validate:"omitempty,dive,keys,oneof=email sms push webhook,endkeys,required"`
	CustomerID              string            `json:"customer_id"              validate:"omitempty,max=64"`
	ReferenceNumber         string            `json:"reference_number"         validate:"omitempty,max=128"`
}

type updateTrackingRequest struct {
	CheckFrequency          *int              `json:"check_frequency"          validate:"omitempty,min=1,max=1440"`
	NotificationPreferences map[string]bool   `json:"notification_preferences"`
	NotificationEndpoints   map[string]string `json:"notification_endpoints"   validate:"omitempty,dive,keys,oneof=email sms push webhook,endkeys,required"`
}

type lookupRequest struct {
	TrackingNumbers []string `json:"tracking_numbers" validate:"required,min=1,max=100,dive,required"`
	Carrier         string   `json:"carrier"          validate:"omitempty,max=32"`
}

type trackingLinks struct {
	Self string `json:"self"`
	Map  string `json:"map"`
}

type trackingResponse struct {
	*domain.TrackingRecord
	Links trackingLinks `json:"_links"`
}

type trackResponse struct {
	AlreadyTracked bool             `json:"already_tracked"`
	Tracking       trackingResponse `json:"tracking"`
}

type lookupResponse struct {
	Count    int                `json:"count"`
	Results  []trackingResponse `json:"results"`
	NotFound []string           `json:"not_found"`
}
