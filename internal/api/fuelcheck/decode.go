package fuelcheck

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// decodeSnapshot extracts stations and prices from a FuelCheck response.
// Codes and prices may be encoded as numbers or strings.
func decodeSnapshot(body []byte) (models.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return models.Snapshot{}, errors.New("invalid JSON")
	}

	doc := gjson.ParseBytes(body)
	stations := doc.Get("stations").Array()
	prices := doc.Get("prices").Array()

	snapshot := models.Snapshot{
		Stations: make([]models.StationRecord, 0, len(stations)),
		Prices:   make([]models.PriceRecord, 0, len(prices)),
	}

	for _, st := range stations {
		snapshot.Stations = append(snapshot.Stations, models.StationRecord{
			Code: int(st.Get("code").Int()),
			Metadata: models.StationMetadata{
				Name:      st.Get("name").String(),
				Brand:     st.Get("brand").String(),
				Address:   st.Get("address").String(),
				BrandID:   st.Get("brandid").String(),
				StationID: st.Get("stationid").String(),
				Latitude:  st.Get("location.latitude").Float(),
				Longitude: st.Get("location.longitude").Float(),
			},
		})
	}

	for _, pr := range prices {
		snapshot.Prices = append(snapshot.Prices, models.PriceRecord{
			StationCode: int(pr.Get("stationcode").Int()),
			FuelType:    strings.TrimSpace(pr.Get("fueltype").String()),
			Price:       rawValue(pr.Get("price")),
			LastUpdated: pr.Get("lastupdated").String(),
		})
	}

	return snapshot, nil
}

// rawValue keeps the exact textual form of numbers so no float rounding is introduced.
func rawValue(r gjson.Result) string {
	if r.Type == gjson.Number {
		return r.Raw
	}
	return r.String()
}
