package repository

import (
	"fmt"
	"os"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Seed is inventory loaded into a MemoryStore at startup.
type Seed struct {
	Flights []SeedFlight `yaml:"flights"`
	Users   []SeedUser   `yaml:"users"`
}

type SeedFlight struct {
	Number      string `yaml:"flight_number"`
	Airline     string `yaml:"airline"`
	FromCity    string `yaml:"from_city"`
	FromAirport string `yaml:"from_airport"`
	ToCity      string `yaml:"to_city"`
	ToAirport   string `yaml:"to_airport"`
	Date        string `yaml:"date"`
	DepartTime  string `yaml:"depart_time"`
	ArriveTime  string `yaml:"arrive_time"`
	Price       string `yaml:"price"`
	Remaining   int    `yaml:"remaining"`
}

type SeedUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	RealName     string `yaml:"realname"`
	Phone        string `yaml:"phone"`
	Email        string `yaml:"email"`
	IDCard       string `yaml:"id_card"`
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// Apply loads the seed into s.
func (seed *Seed) Apply(s *MemoryStore) error {
	for _, f := range seed.Flights {
		if f.Remaining < 0 {
			return fmt.Errorf("seed flight %s: negative remaining seats", f.Number)
		}
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return fmt.Errorf("seed flight %s: price: %w", f.Number, err)
		}
		s.PutFlight(domain.Flight{
			Number:         f.Number,
			Airline:        f.Airline,
			FromCity:       f.FromCity,
			FromAirport:    f.FromAirport,
			ToCity:         f.ToCity,
			ToAirport:      f.ToAirport,
			Date:           f.Date,
			DepartTime:     f.DepartTime,
			ArriveTime:     f.ArriveTime,
			Price:          price,
			RemainingSeats: f.Remaining,
		})
	}
	for _, u := range seed.Users {
		s.PutUser(domain.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			RealName:     u.RealName,
			Phone:        u.Phone,
			Email:        u.Email,
			IDCard:       u.IDCard,
		})
	}
	return nil
}
