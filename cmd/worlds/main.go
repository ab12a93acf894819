// This script is a small convenience tool for managing the worlds listed in the
// configured world directory database.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gorm.io/gorm"

	"github.com/dcrodman/lodestone/internal/core"
	"github.com/dcrodman/lodestone/internal/core/data"
	"github.com/dcrodman/lodestone/internal/worldlist"
)

var (
	configFlag = flag.String("config", "./", "Path to the directory containing the server config file")
	list       = flag.Bool("list", false, "List every world.")
	countries  = flag.Bool("countries", false, "List every country and its flag.")
	add        = flag.Bool("add", false, "Add a world.")
	update     = flag.Bool("update", false, "Change an existing world.")
	remove     = flag.Bool("remove", false, "Remove a world.")
)

var scanner = bufio.NewScanner(os.Stdin)

// initDataSource opens the database named by the server config, and returns a
// func which should be deferred for cleanup.
func initDataSource() (*gorm.DB, func(), error) {
	config, err := core.LoadConfig(*configFlag)
	if err != nil {
		return nil, nil, err
	}

	dataSource := config.DatabaseURL()
	if config.Database.Engine == data.EngineSQLite {
		dataSource = config.Database.Filename
	}
	db, err := data.Initialize(config.Database.Engine, dataSource, false)
	if err != nil {
		return nil, nil, err
	}
	if err := data.SeedDefaults(db, config.World.ID, config.World.PublicHostname, config.Port); err != nil {
		return nil, nil, err
	}
	return db, func() { _ = data.Shutdown(db) }, nil
}

func main() {
	flag.Parse()

	if flag.NFlag() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	db, cleanup, err := initDataSource()
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	switch {
	case *list:
		err = listWorlds(db)
	case *countries:
		err = listCountries(db)
	case *add:
		err = addWorld(db)
	case *update:
		err = updateWorld(db)
	case *remove:
		err = removeWorld(db)
	default:
		flag.Usage()
	}

	cleanup()
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

func listWorlds(db *gorm.DB) error {
	worlds, err := data.FindWorlds(db)
	if err != nil {
		return fmt.Errorf("failed to load worlds: %v", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Address", "Country", "Activity", "Flags", "Players"})
	table.SetAutoWrapText(false)
	for _, w := range worlds {
		table.Append([]string{
			strconv.Itoa(w.ID),
			fmt.Sprintf("%s:%d", w.Hostname, w.Port),
			w.Country.Name,
			w.Activity,
			fmt.Sprintf("%#02x", worldlist.Flags(&w)),
			strconv.Itoa(w.Players),
		})
	}
	table.Render()
	return nil
}

func listCountries(db *gorm.DB) error {
	countries, err := data.FindCountries(db)
	if err != nil {
		return fmt.Errorf("failed to load countries: %v", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Flag", "Name"})
	for _, c := range countries {
		table.Append([]string{strconv.Itoa(c.Flag), c.Name})
	}
	table.Render()
	return nil
}

func addWorld(db *gorm.DB) error {
	id, err := strconv.Atoi(scanInput("World ID"))
	if err != nil {
		return fmt.Errorf("invalid world ID: %v", err)
	}
	if existing, err := data.FindWorld(db, id); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("world %d already exists", id)
	}

	w := &data.World{ID: id}
	if err := promptWorld(db, w); err != nil {
		return err
	}
	if err := data.CreateWorld(db, w); err != nil {
		return fmt.Errorf("failed to create world: %v", err)
	}
	fmt.Println("created world", w.ID)
	return nil
}

func updateWorld(db *gorm.DB) error {
	w, err := findWorld(db)
	if err != nil {
		return err
	}
	fmt.Println("leave a field blank to keep its current value")
	if err := promptWorld(db, w); err != nil {
		return err
	}
	if err := data.UpdateWorld(db, w); err != nil {
		return fmt.Errorf("failed to update world: %v", err)
	}
	fmt.Println("updated world", w.ID)
	return nil
}

func removeWorld(db *gorm.DB) error {
	w, err := findWorld(db)
	if err != nil {
		return err
	}
	if err := data.DeleteWorld(db, w.ID); err != nil {
		return fmt.Errorf("failed to delete world: %v", err)
	}
	fmt.Println("deleted world", w.ID)
	return nil
}

func findWorld(db *gorm.DB) (*data.World, error) {
	id, err := strconv.Atoi(scanInput("World ID"))
	if err != nil {
		return nil, fmt.Errorf("invalid world ID: %v", err)
	}
	w, err := data.FindWorld(db, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("no world with ID %d", id)
	}
	return w, nil
}

// promptWorld asks for every editable field of w. Blank answers keep the current value.
func promptWorld(db *gorm.DB, w *data.World) error {
	if v := scanInput("Hostname"); v != "" {
		w.Hostname = v
	}
	if v := scanInput("Port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid port: %v", err)
		}
		w.Port = port
	}
	if v := scanInput("Country flag"); v != "" {
		flagID, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid flag: %v", err)
		}
		country, err := data.FindCountryByFlag(db, flagID)
		if err != nil {
			return err
		}
		if country == nil {
			return errors.New("unknown country flag, see -countries")
		}
		w.CountryID = country.ID
		w.Country = *country
	}
	if v := scanInput("Activity"); v != "" {
		w.Activity = v
	}

	var err error
	for _, field := range []struct {
		prompt string
		value  *bool
	}{
		{"Members (y/n)", &w.Members},
		{"Quick chat (y/n)", &w.QuickChat},
		{"PvP (y/n)", &w.PvP},
		{"Loot share (y/n)", &w.LootShare},
		{"Highlight (y/n)", &w.Highlight},
	} {
		if *field.value, err = scanBool(field.prompt, *field.value); err != nil {
			return err
		}
	}

	if w.Hostname == "" {
		return errors.New("hostname is required")
	}
	return nil
}

func scanInput(prompt string) string {
	fmt.Printf("%s: ", prompt)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func scanBool(prompt string, current bool) (bool, error) {
	switch strings.ToLower(scanInput(prompt)) {
	case "":
		return current, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected y or n for %q", prompt)
	}
}
