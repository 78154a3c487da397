package domain

// FormOptions holds the dropdown choices offered by the wizard.
type FormOptions struct {
	Countries       []string   `json:"countries"`
	Sites           []string   `json:"sites"`
	Models          []string   `json:"models"`
	Variants        []string   `json:"variants"`
	ProductionLines []string   `json:"productionLines"`
	Types           []Category `json:"types"`
}

func Options() FormOptions {
	return FormOptions{
		Countries: []string{"France", "Germany", "India", "Italy", "Morocco", "Poland", "Portugal", "Slovakia", "Spain", "United Kingdom", "United States"},
		Sites:     []string{"Poissy", "Sochaux", "Mulhouse", "Tiruvallur", "Hosur", "Pune", "Eisenach", "Russelsheim", "Tychy", "Gilwice", "Melfi", "Cassino", "Vigo", "Zaragozza"},
		Models:    []string{"C3 Air Cross", "Basalt", "C3", "C5 Aircross", "eC3 Air Cross", "eC3", "P5008", "P3008", "P308", "P508"},
		Variants:  []string{"C3_MHEV", "C3_PHEV", "C3_ICE", "Basalt_MHEV", "C3-AC_PHEV", "eC3", "C3-AC_MHEV", "eC3-AC", "C3-AC_ICE", "Basalt_ICE", "Basalt_PHEV", "eBasalt"},
		ProductionLines: []string{
			"Trim Line -2", "Trim Line -3", "Trim Line -1", "Door Sub Assembly", "Final Line-1",
			"Chassis Line-1", "Chassis Line-3", "Final Line-2", "Chassis Line-2", "Final Line-3",
			"IP Sub Assembly", "Wheel Sub Assembly", "Rear Axle Sub Assy", "Engine G/B Sub Assy",
			"Power Train Assy", "Front Axle Sub Assy",
		},
		Types: []Category{CategoryPreLaunch, CategoryProduction},
	}
}
