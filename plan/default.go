package plan

import "github.com/shopspring/decimal"

// =============================================================================
// REFERENCE PLAN
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tier(t Tier, rank int, minGO string, partners int, side string, rate string) TierRule {
	return TierRule{
		Tier:              t,
		Rank:              rank,
		MinGroupVolume:    d(minGO),
		MinActivePartners: partners,
		MinSideVolume:     d(side),
		GroupRate:         d(rate),
	}
}

func (r TierRule) requires(prereq map[Tier]int) TierRule {
	r.Prerequisites = prereq
	return r
}

func (r TierRule) atRisk(v string) TierRule {
	r.AtRiskThreshold = d(v)
	return r
}

// Default returns the reference plan. Each call builds a fresh value, so
// callers may modify the result freely.
func Default() Config {
	return Config{
		Tiers: []TierRule{
			tier(TierNone, 0, "0", 0, "0", "0").atRisk("50"),
			tier(TierM1, 1, "750", 2, "0", "0.05").atRisk("100"),
			tier(TierM2, 2, "1500", 3, "0", "0.10").atRisk("200"),
			tier(TierM3, 3, "3000", 4, "0", "0.15").atRisk("300"),
			tier(TierB1, 4, "5500", 5, "2500", "0.20").requires(map[Tier]int{TierM3: 1}).atRisk("400"),
			tier(TierB2, 5, "8000", 6, "2000", "0.25").requires(map[Tier]int{TierM3: 2}).atRisk("500"),
			tier(TierB3, 6, "10000", 7, "1000", "0.30").requires(map[Tier]int{TierM3: 3}).atRisk("600"),
			tier(TierTop, 7, "16000", 8, "1000", "0.35").requires(map[Tier]int{TierM3: 5}),
			tier(TierTop1, 8, "23000", 9, "1000", "0.37").requires(map[Tier]int{TierM3: 4, TierB3: 1}),
			tier(TierTop2, 9, "30000", 10, "1000", "0.39").requires(map[Tier]int{TierM3: 3, TierB3: 2}),
			tier(TierTop3, 10, "37000", 11, "1000", "0.41").requires(map[Tier]int{TierM3: 2, TierB3: 3}),
			tier(TierTop4, 11, "44000", 12, "1000", "0.43").requires(map[Tier]int{TierM3: 1, TierB3: 4}),
			tier(TierTop5, 12, "51000", 13, "1000", "0.45").requires(map[Tier]int{TierB3: 5}),
			tier(TierAC1, 13, "200000", 15, "100000", "0.47"),
			tier(TierAC2, 14, "350000", 17, "100000", "0.49"),
			tier(TierAC3, 15, "500000", 20, "200000", "0.51"),
			tier(TierAC4, 16, "1000000", 25, "350000", "0.53"),
			tier(TierAC5, 17, "2500000", 30, "500000", "0.55"),
			tier(TierAC6, 18, "5000000", 35, "500000", "0.57"),
		},

		PersonalRates: []VolumeRate{
			{MinVolume: d("70"), Rate: d("0.05")},
			{MinVolume: d("200"), Rate: d("0.10")},
		},
		GrowthRates: []GrowthRate{
			{MinGrowth: d("0.20"), Rate: d("0.005")},
			{MinGrowth: d("0.30"), Rate: d("0.010")},
			{MinGrowth: d("0.50"), Rate: d("0.015")},
			{MinGrowth: d("1.00"), Rate: d("0.020")},
		},
		GrowthPeriods: 3,

		Mentorship: []Milestone{
			{Tier: TierM3, Amount: d("100")},
			{Tier: TierB1, Amount: d("200")},
			{Tier: TierB3, Amount: d("500")},
			{Tier: TierTop, Amount: d("1000")},
		},
		QuickStart: []Milestone{
			{Tier: TierM1, Amount: d("50"), WithinMonths: 1},
			{Tier: TierM2, Amount: d("100"), WithinMonths: 2},
			{Tier: TierM3, Amount: d("200"), WithinMonths: 3},
		},

		ActivePartnerBonuses: []CountBonus{
			{MinCount: 5, Amount: d("100")},
			{MinCount: 7, Amount: d("200")},
			{MinCount: 9, Amount: d("300")},
			{MinCount: 12, Amount: d("400")},
			{MinCount: 15, Amount: d("500")},
		},
		ActivePartnerMinVolume: d("70"),

		Regions: map[string]Region{
			"RU": {
				Code: "RU", Currency: "RUB", MinPersonalVolume: d("50"),
				CompressionThreshold: d("50"), GraceMonths: 2, CompressionRule: "STRICT",
				GroupVolumeOverrides: map[Tier]decimal.Decimal{TierM1: d("600"), TierM2: d("1200"), TierM3: d("2400")},
			},
			"KZ": {
				Code: "KZ", Currency: "KZT", MinPersonalVolume: d("50"),
				CompressionThreshold: d("50"), GraceMonths: 2, CompressionRule: "STRICT",
				GroupVolumeOverrides: map[Tier]decimal.Decimal{TierM1: d("650"), TierM2: d("1300"), TierM3: d("2600")},
			},
			"UZ": {
				Code: "UZ", Currency: "UZS", MinPersonalVolume: d("40"),
				CompressionThreshold: d("40"), GraceMonths: 3, CompressionRule: "SOFT",
				GroupVolumeOverrides: map[Tier]decimal.Decimal{TierM1: d("500"), TierM2: d("1000"), TierM3: d("2000")},
			},
			"KG": {
				Code: "KG", Currency: "KGS", MinPersonalVolume: d("40"),
				CompressionThreshold: d("40"), GraceMonths: 3, CompressionRule: "SOFT",
				GroupVolumeOverrides: map[Tier]decimal.Decimal{TierM1: d("500"), TierM2: d("1000"), TierM3: d("2000")},
			},
		},
		DefaultRegion: "RU",
		Currencies: map[string]decimal.Decimal{
			"RUB": d("35"),
			"KZT": d("175"),
			"KGS": d("35"),
			"BYN": d("0.98"),
			"UZS": d("3850"),
			"GEL": d("1.45"),
			"TRY": d("4.5"),
			"MDL": d("8"),
			"TJS": d("3.5"),
			"AED": d("1.42"),
		},

		Kits: map[string]Kit{
			"START": {
				ID: "START", Price: d("100"), Volume: d("70"),
				Privileges: []Privilege{PrivilegePersonalDiscount, PrivilegeQuickStart, PrivilegeBasicTraining},
			},
			"START_PLUS": {
				ID: "START_PLUS", Price: d("200"), Volume: d("140"),
				Privileges: []Privilege{PrivilegePersonalDiscount, PrivilegeQuickStart, PrivilegeBasicTraining, PrivilegeBusinessTools},
			},
			"BUSINESS": {
				ID: "BUSINESS", Price: d("500"), Volume: d("200"),
				Privileges: []Privilege{PrivilegePersonalDiscount, PrivilegeQuickStart, PrivilegeBasicTraining, PrivilegeBusinessTools, PrivilegeMentorship},
			},
			"VIP": {
				ID: "VIP", Price: d("1000"), Volume: d("300"),
				Privileges: []Privilege{PrivilegePersonalDiscount, PrivilegeQuickStart, PrivilegeBasicTraining, PrivilegeBusinessTools, PrivilegeMentorship, PrivilegeVIPSupport},
			},
		},
		Privileges: map[Privilege]PrivilegeTerms{
			PrivilegePersonalDiscount: {Discount: d("0.20")},
			PrivilegeQuickStart:       {DurationDays: 30},
			PrivilegeBasicTraining:    {DurationDays: 90},
			PrivilegeBusinessTools:    {DurationDays: 180},
			PrivilegeMentorship:       {DurationDays: 365},
			PrivilegeVIPSupport:       {DurationDays: 365},
		},

		Clubs: []Club{
			{
				ID: ClubMiddle, MinTier: TierM3, MaxTier: TierM3, MinPeriods: 3,
				Rates:         []ClubRate{{Name: "middle_bonus", Rate: d("0.02")}},
				Benefits:      []string{"middle_events", "middle_training", "middle_bonus"},
				EventDiscount: d("0.50"),
				Events: []ClubEvent{
					{Name: "quarterly_meeting", Days: 1, Cost: d("100"), Frequency: "quarterly"},
					{Name: "personal_growth_training", Days: 2, Cost: d("200"), Frequency: "semi_annual"},
				},
			},
			{
				ID: ClubBusiness, MinTier: TierB1, MaxTier: TierB3, MinPeriods: 6,
				Rates: []ClubRate{
					{Name: "business_bonus", Rate: d("0.04")},
					{Name: "travel_bonus", Rate: d("0.01"), MinGroupVolume: d("5500")},
				},
				Benefits:      []string{"business_events", "business_training", "business_bonus", "travel_bonus"},
				EventDiscount: d("0.75"),
				Events: []ClubEvent{
					{Name: "business_conference", Days: 2, Cost: d("300"), Frequency: "quarterly"},
					{Name: "business_intensive", Days: 3, Cost: d("500"), Frequency: "annual"},
				},
			},
			{
				ID: ClubTop, MinTier: TierB3, MaxTier: TierB3, MinPeriods: 6,
				Rates:          []ClubRate{{Name: "top_bonus", Rate: d("0.01")}},
				Benefits:       []string{"top_events", "top_training", "top_bonus", "leadership_program"},
				EventDiscount:  d("1.00"),
				MentoringBonus: d("1000"),
				Events: []ClubEvent{
					{Name: "leaders_summit", Days: 3, Cost: d("1000"), Frequency: "semi_annual"},
					{Name: "vip_mastermind", Days: 2, Cost: d("800"), Frequency: "quarterly"},
				},
			},
		},

		CompressionRules: map[string]CompressionRule{
			"STANDARD": {Name: "STANDARD", Threshold: d("50"), GraceMonths: 1, WarningMonths: 1, RecoveryMonths: 3, MinRecoveryVolume: d("70")},
			"SOFT":     {Name: "SOFT", Threshold: d("40"), GraceMonths: 3, WarningMonths: 2, RecoveryMonths: 4, MinRecoveryVolume: d("50")},
			"STRICT":   {Name: "STRICT", Threshold: d("50"), GraceMonths: 1, WarningMonths: 1, RecoveryMonths: 2, MinRecoveryVolume: d("100")},
		},
		RecoveryPrograms: map[RecoveryProgram]RecoveryTerms{
			RecoveryQuick:    {Months: 1, RequiredVolume: d("100"), BonusRate: d("0.05")},
			RecoveryStandard: {Months: 2, RequiredVolume: d("70"), BonusRate: d("0.03")},
			RecoveryGradual:  {Months: 3, RequiredVolume: d("50"), BonusRate: d("0.02")},
		},
		Warnings: []WarningThreshold{
			{Level: WarningCritical, MaxVolume: d("0")},
			{Level: WarningWarning, MaxVolume: d("30")},
			{Level: WarningNotice, MaxVolume: d("40")},
		},
		DefaultAtRisk: d("600"),

		Windows: Windows{
			Volume:        13,
			Adjustments:   24,
			Qualification: 12,
			Compression:   12,
			Club:          12,
			Events:        24,
		},

		RootVolume:            d("200"),
		OptimalPersonalVolume: d("200"),
	}
}
