package weather

import "errors"

var (
	ErrMissingField     = errors.New("weather response is missing a field")
	ErrUnexpectedStatus = errors.New("unexpected weather api status")
)

type (
	// Current is the subset of the OpenWeather current weather response that
	// is exported. Fields are pointers so a missing field can be told apart
	// from 0.
	Current struct {
		Main   *MainSection   `json:"main"`
		Wind   *WindSection   `json:"wind"`
		Clouds *CloudsSection `json:"clouds"`
		Sys    *SysSection    `json:"sys"`
	}

	MainSection struct {
		TempKelvin *float64 `json:"temp"`
		Pressure   *float64 `json:"pressure"`
		Humidity   *float64 `json:"humidity"`
	}

	WindSection struct {
		Speed *float64 `json:"speed"`
	}

	CloudsSection struct {
		All *float64 `json:"all"`
	}

	SysSection struct {
		Sunrise *int64 `json:"sunrise"`
		Sunset  *int64 `json:"sunset"`
	}
)
