package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func nyDate(year int, month time.Month, day, hour int) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// fallback. still deterministic. hours will be interpreted as UTC
		return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
	}
	return time.Date(year, month, day, hour, 0, 0, 0, loc)
}

func TestSessionMultiplierWithNoTradeWindow(t *testing.T) {
	cfg := SessionConfig{
		WeekendHolidayMultiplier: decimal.RequireFromString("10"),
		DeadZoneMultiplier:       decimal.RequireFromString("20"),
		AsiaMultiplier:           decimal.RequireFromString("30"),
		LondonMultiplier:         decimal.RequireFromString("40"),
		USMultiplier:             decimal.RequireFromString("50"),
		DefaultMultiplier:        decimal.RequireFromString("60"),
		EnableNoTradeWindow:      true,
	}

	tests := []struct {
		name        string
		at          time.Time
		wantSession Session
		wantMult    decimal.Decimal
	}{
		{
			name:        "Asia session Tuesday 21.00 NY",
			at:          nyDate(2025, time.March, 4, 21),
			wantSession: SessionAsia,
			wantMult:    decimal.RequireFromString("30"),
		},
		{
			name:        "London session Tuesday 04.00 NY",
			at:          nyDate(2025, time.March, 4, 4),
			wantSession: SessionLondon,
			wantMult:    decimal.RequireFromString("40"),
		},
		{
			name:        "US session Tuesday 10.00 NY",
			at:          nyDate(2025, time.March, 4, 10),
			wantSession: SessionUS,
			wantMult:    decimal.RequireFromString("50"),
		},
		{
			name:        "Dead zone Tuesday 18.00 NY",
			at:          nyDate(2025, time.March, 4, 18),
			wantSession: SessionDeadZone,
			wantMult:    decimal.RequireFromString("20"),
		},
		{
			name:        "Friday in no trade window (10.00 NY)",
			at:          nyDate(2025, time.March, 7, 10),
			wantSession: SessionNoTrade,
			wantMult:    decimal.Zero,
		},
		{
			name:        "Saturday always no trade",
			at:          nyDate(2025, time.March, 8, 12),
			wantSession: SessionNoTrade,
			wantMult:    decimal.Zero,
		},
		{
			name:        "Sunday after no trade window (03.00 NY. UK session)",
			at:          nyDate(2025, time.March, 9, 3),
			wantSession: SessionLondon,
			wantMult:    decimal.RequireFromString("40"),
		},
		{
			name:        "Christmas day blocked",
			at:          nyDate(2025, time.December, 25, 11),
			wantSession: SessionNoTrade,
			wantMult:    decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMult, gotSession := SessionMultiplier(tt.at, cfg)

			if gotSession != tt.wantSession {
				t.Fatalf("session mismatch. got=%s want=%s", gotSession, tt.wantSession)
			}
			if !gotMult.Equal(tt.wantMult) {
				t.Fatalf("multiplier mismatch. got=%s want=%s", gotMult.String(), tt.wantMult.String())
			}
		})
	}
}

func TestTradingAllowedMatchesNoTradeWindow(t *testing.T) {
	cfg := DefaultSessionConfig()

	if TradingAllowed(nyDate(2025, time.March, 8, 12), cfg) {
		t.Fatal("Saturday must be blocked")
	}
	if !TradingAllowed(nyDate(2025, time.March, 4, 10), cfg) {
		t.Fatal("Tuesday US session must be allowed")
	}
}

func TestNoTradeWindowDisabled(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.EnableNoTradeWindow = false

	mult, sess := SessionMultiplier(nyDate(2025, time.March, 8, 12), cfg)
	if sess != SessionWeekendHoliday {
		t.Fatalf("expected weekend session, got %s", sess)
	}
	if !mult.Equal(cfg.WeekendHolidayMultiplier) {
		t.Fatalf("expected weekend multiplier, got %s", mult)
	}
}
