package data

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/dcrodman/lodestone/internal/core/text"
)

// Country is an entry in the world selector's country list. Flag selects the icon
// the client draws next to worlds hosted in that country.
type Country struct {
	ID   uint   `gorm:"primaryKey"`
	Flag int    `gorm:"unique; not null"`
	Name string `gorm:"not null"`
}

// World is a single game world advertised by the world list.
type World struct {
	ID        int    `gorm:"primaryKey; autoIncrement:false"`
	Hostname  string `gorm:"not null"`
	Port      int
	CountryID uint
	Country   Country
	Activity  string
	Members   bool `gorm:"default:false"`
	QuickChat bool `gorm:"default:false"`
	PvP       bool `gorm:"default:false"`
	LootShare bool `gorm:"default:false"`
	Highlight bool `gorm:"default:false"`
	Players   int
}

// FindCountries returns every country ordered by ID, which is the order they are
// listed in by the world list.
func FindCountries(db *gorm.DB) ([]Country, error) {
	var countries []Country
	if err := db.Order("id").Find(&countries).Error; err != nil {
		return nil, err
	}
	return countries, nil
}

// FindCountryByFlag returns the country using flag or nil if there is none.
func FindCountryByFlag(db *gorm.DB, flag int) (*Country, error) {
	var country Country
	err := db.Where("flag = ?", flag).First(&country).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &country, nil
}

// CreateCountry persists the Country record to the database.
func CreateCountry(db *gorm.DB, country *Country) error {
	return db.Create(country).Error
}

// FindWorlds returns every world ordered by ID.
func FindWorlds(db *gorm.DB) ([]World, error) {
	var worlds []World
	if err := db.Preload("Country").Order("id").Find(&worlds).Error; err != nil {
		return nil, err
	}
	return worlds, nil
}

// FindWorld returns the world with the given ID or nil if there is no match.
func FindWorld(db *gorm.DB, id int) (*World, error) {
	var world World
	err := db.Preload("Country").First(&world, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &world, nil
}

// CreateWorld persists the World record to the database.
func CreateWorld(db *gorm.DB, world *World) error {
	return db.Create(world).Error
}

// UpdateWorld saves every field of world.
func UpdateWorld(db *gorm.DB, world *World) error {
	return db.Save(world).Error
}

// UpdatePlayerCount records the number of players currently on a world.
func UpdatePlayerCount(db *gorm.DB, id int, players int) error {
	return db.Model(&World{}).Where("id = ?", id).Update("players", players).Error
}

// DeleteWorld removes a world from the directory.
func DeleteWorld(db *gorm.DB, id int) error {
	return db.Delete(&World{}, id).Error
}

// Flags understood by the client, in the order they were assigned.
var defaultCountryFlags = []struct {
	name string
	flag int
}{
	{"UNITED_STATES", 0},
	{"AUSTRIA", 15},
	{"AUSTRALIA", 16},
	{"GERMANY", 22},
	{"BRAZIL", 31},
	{"CANADA", 38},
	{"SWITZERLAND", 43},
	{"CHINA", 48},
	{"DENMARK", 58},
	{"FINLAND", 69},
	{"FRANCE", 74},
	{"UNITED_KINGDOM", 77},
	{"IRELAND", 101},
	{"INDIA", 103},
	{"MEXICO", 152},
	{"NETHERLANDS", 161},
	{"NORWAY", 162},
	{"NEW_ZEALAND", 166},
	{"PORTUGAL", 179},
	{"SWEDEN", 191},
}

// DefaultCountries returns the countries known to the client.
func DefaultCountries() []Country {
	countries := make([]Country, len(defaultCountryFlags))
	for i, c := range defaultCountryFlags {
		countries[i] = Country{
			Flag: c.flag,
			Name: text.FormatDisplayName(strings.ToLower(c.name)),
		}
	}
	return countries
}

// SeedDefaults populates an empty directory with the default countries and a single
// world at hostname:port.
func SeedDefaults(db *gorm.DB, worldID int, hostname string, port int) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Country{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			countries := DefaultCountries()
			if err := tx.Create(&countries).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&World{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		var first Country
		if err := tx.Order("id").First(&first).Error; err != nil {
			return err
		}
		return tx.Create(&World{
			ID:        worldID,
			Hostname:  hostname,
			Port:      port,
			CountryID: first.ID,
		}).Error
	})
}
