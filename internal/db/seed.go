package db

import (
	_ "embed"
	"fmt"

	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed seed/boilers.yaml
var boilerCatalog []byte

type boilerSeed struct {
	Manufacturer   string         `yaml:"manufacturer"`
	Model          string         `yaml:"model"`
	FuelType       string         `yaml:"fuelType"`
	BoilerType     string         `yaml:"boilerType"`
	OutputKW       float64        `yaml:"outputKw"`
	EfficiencyPct  float64        `yaml:"efficiencyPct"`
	ErPRating      string         `yaml:"erpRating"`
	Specifications map[string]any `yaml:"specifications"`
}

func (s boilerSeed) model() models.BoilerSpecification {
	out := decimal.NewFromFloat(s.OutputKW)
	eff := decimal.NewFromFloat(s.EfficiencyPct)
	return models.BoilerSpecification{
		Manufacturer:   s.Manufacturer,
		Model:          s.Model,
		FuelType:       s.FuelType,
		BoilerType:     s.BoilerType,
		OutputKW:       &out,
		EfficiencyPct:  &eff,
		ErPRating:      s.ErPRating,
		Specifications: s.Specifications,
	}
}

// LoadBoilerCatalog parses the embedded reference catalog.
func LoadBoilerCatalog() ([]models.BoilerSpecification, error) {
	var seeds []boilerSeed
	if err := yaml.Unmarshal(boilerCatalog, &seeds); err != nil {
		return nil, fmt.Errorf("parse boiler catalog: %w", err)
	}
	out := make([]models.BoilerSpecification, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, s.model())
	}
	return out, nil
}

// Seed inserts reference data that is missing. Existing rows are left alone,
// so running it repeatedly is safe.
func Seed(db *gorm.DB) (int, error) {
	boilers, err := LoadBoilerCatalog()
	if err != nil {
		return 0, err
	}
	created := 0
	for _, b := range boilers {
		var existing models.BoilerSpecification
		err := db.Where("manufacturer = ? AND model = ?", b.Manufacturer, b.Model).First(&existing).Error
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return created, err
		}
		if err := db.Create(&b).Error; err != nil {
			return created, fmt.Errorf("seed boiler %s %s: %w", b.Manufacturer, b.Model, err)
		}
		created++
	}
	return created, nil
}
