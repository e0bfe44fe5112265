package core

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/systemed/conflation/pkg/geo"
)

// ValidationError represents a validation error for coordinates or other values
type ValidationError struct {
	Code     string
	Message  string
	Guidance string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateCoords checks if latitude and longitude are within valid ranges
func ValidateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return ValidationError{
			Code:     string(ErrInvalidLatitude),
			Message:  fmt.Sprintf("Latitude must be between -90 and 90, got %f", lat),
			Guidance: "Ensure latitude is in decimal degrees",
		}
	}
	if lon < -180 || lon > 180 {
		return ValidationError{
			Code:     string(ErrInvalidLongitude),
			Message:  fmt.Sprintf("Longitude must be between -180 and 180, got %f", lon),
			Guidance: "Ensure longitude is in decimal degrees",
		}
	}
	return nil
}

// ParseLocation extracts and validates a point from a CallToolRequest.
// Empty keys default to "latitude" and "longitude".
func ParseLocation(req mcp.CallToolRequest, latKey, lonKey string) (geo.Location, error) {
	if latKey == "" {
		latKey = "latitude"
	}
	if lonKey == "" {
		lonKey = "longitude"
	}

	args := req.GetArguments()
	if _, ok := args[latKey]; !ok {
		return geo.Location{}, NewValidationError(ErrMissingParameter, latKey+" is required")
	}
	if _, ok := args[lonKey]; !ok {
		return geo.Location{}, NewValidationError(ErrMissingParameter, lonKey+" is required")
	}

	lat := mcp.ParseFloat64(req, latKey, 0)
	lon := mcp.ParseFloat64(req, lonKey, 0)
	if err := ValidateCoords(lat, lon); err != nil {
		return geo.Location{}, err
	}
	return geo.Location{Latitude: lat, Longitude: lon}, nil
}

// ParseLocationWithLog parses a point and logs any errors
func ParseLocationWithLog(req mcp.CallToolRequest, logger *slog.Logger, latKey, lonKey string) (geo.Location, error) {
	loc, err := ParseLocation(req, latKey, lonKey)
	if err != nil {
		logger.Error("invalid coordinates", "error", err)
	}
	return loc, err
}
