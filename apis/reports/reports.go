package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"

	"climate/apis/transport"
	"climate/manager"
)

// Requester sends one request to the report service.
type Requester interface {
	Request(ctx context.Context, method, path string, body any) (*resty.Response, error)
}

func New(requester Requester) *reports {
	return &reports{requester: requester}
}

type reports struct {
	requester Requester
}

func (r reports) Locations(ctx context.Context) ([]manager.Location, error) {
	locations := make([]manager.Location, 0, 8)
	if err := r.processRequest(ctx, http.MethodGet, "/locations", nil, &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

func (r reports) Reports(ctx context.Context, location string) ([]manager.Report, error) {
	params := url.Values{}
	params.Set("location", location)

	found := make([]manager.Report, 0, 24)
	if err := r.processRequest(ctx, http.MethodGet, "/weather_reports?"+params.Encode(), nil, &found); err != nil {
		return nil, err
	}
	return found, nil
}

func (r reports) UpdateReport(ctx context.Context, update manager.Update) (manager.Report, error) {
	type weatherReport struct {
		Temperature float64 `json:"temperature"`
		Description string  `json:"description"`
	}
	payload := struct {
		WeatherReport weatherReport `json:"weather_report"`
	}{
		WeatherReport: weatherReport{
			Temperature: update.Temperature,
			Description: update.Description,
		},
	}

	var updated manager.Report
	path := "/weather_reports/" + url.PathEscape(update.ID.String())
	if err := r.processRequest(ctx, http.MethodPatch, path, payload, &updated); err != nil {
		return manager.Report{}, err
	}
	return updated, nil
}

func (r reports) processRequest(ctx context.Context, method, path string, body, out any) error {
	response, err := r.requester.Request(ctx, method, path, body)
	if err != nil {
		return err
	}

	if _, err = transport.Validate(response); err != nil {
		return err
	}

	if err = json.Unmarshal(response.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
