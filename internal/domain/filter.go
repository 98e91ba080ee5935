package domain

import "errors"

type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

const (
	MinAge = 18
	MaxAge = 99
)

var (
	ErrInvalidGender   = errors.New("invalid gender preference")
	ErrInvalidAgeRange = errors.New("invalid age range")
	ErrInvalidDistance = errors.New("invalid max distance")
)

type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Filter is the set of preferences sent with a search request.
type Filter struct {
	Gender        Gender   `json:"gender"`
	Age           AgeRange `json:"age"`
	MaxDistanceKm int      `json:"max_distance_km"`
}

func DefaultFilter() Filter {
	return Filter{
		Gender:        GenderAny,
		Age:           AgeRange{Min: MinAge, Max: MaxAge},
		MaxDistanceKm: 50,
	}
}

func (f Filter) Validate() error {
	switch f.Gender {
	case GenderAny, GenderMale, GenderFemale:
	default:
		return ErrInvalidGender
	}
	if f.Age.Min < MinAge || f.Age.Max > MaxAge || f.Age.Min > f.Age.Max {
		return ErrInvalidAgeRange
	}
	if f.MaxDistanceKm <= 0 {
		return ErrInvalidDistance
	}
	return nil
}
