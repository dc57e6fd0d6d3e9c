package main

import (
	"testing"
	"time"
)

func TestBusinessHoursFromConfig(t *testing.T) {
	cfg := Config{Timezone: "Asia/Jakarta", Open: "07:00", Close: "18:30", ClosedDay: "mon", UnitLength: time.Hour}
	h, err := cfg.BusinessHours()
	if err != nil {
		t.Fatalf("business hours: %v", err)
	}
	if h.Open != 7*time.Hour || h.Close != 18*time.Hour+30*time.Minute || h.ClosedDay != time.Monday {
		t.Fatalf("unexpected hours %+v", h)
	}
	if h.Location.String() != "Asia/Jakarta" {
		t.Fatalf("unexpected location %s", h.Location)
	}
}

func TestBusinessHoursRejectsBadValues(t *testing.T) {
	base := Config{Timezone: "Asia/Jakarta", Open: "07:00", Close: "18:00", ClosedDay: "Monday", UnitLength: time.Hour}
	cases := map[string]func(*Config){
		"timezone": func(c *Config) { c.Timezone = "Mars/Olympus" },
		"open":     func(c *Config) { c.Open = "7am" },
		"order":    func(c *Config) { c.Close = "06:00" },
		"weekday":  func(c *Config) { c.ClosedDay = "Funday" },
		"unit":     func(c *Config) { c.UnitLength = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if _, err := cfg.BusinessHours(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
