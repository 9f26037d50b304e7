package tool

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Battery is one catalog entry the recommendation tool can propose.
type Battery struct {
	Model      string   `mapstructure:"model" json:"model"`
	CapacityWh float64  `mapstructure:"capacity_wh" json:"capacity_wh"`
	PriceRange string   `mapstructure:"price_range" json:"price_range"`
	BestFor    string   `mapstructure:"best_for" json:"best_for"` // "casa" | "apartamento" | "ambos"
	Features   []string `mapstructure:"features" json:"features"`
}

// Templates holds customer-facing copy that operators can override.
type Templates struct {
	Greeting string `mapstructure:"greeting" json:"greeting"`
	Apology  string `mapstructure:"apology" json:"apology"`
}

// Profile is the business configuration: equipment wattages, the battery
// catalog, and message templates. Defaults mirror the Puerto Rico deployment.
type Profile struct {
	EquipmentWatts map[string]float64 `mapstructure:"equipment_consumption" json:"equipment_consumption"`
	Batteries      []Battery          `mapstructure:"batteries" json:"batteries"`
	Templates      Templates          `mapstructure:"templates" json:"templates"`
}

// DefaultProfile returns the built-in catalog and wattage table.
func DefaultProfile() *Profile {
	return &Profile{
		EquipmentWatts: map[string]float64{
			"nevera":                    300,
			"tv":                        70,
			"abanico":                   60,
			"celulares":                 15,
			"bombilla_led":              10,
			"freezer":                   300,
			"microondas":                1000,
			"computadora":               150,
			"router_internet":           20,
			"cafetera":                  800,
			"lavadora":                  500,
			"aire_acondicionado_pequeno": 1000,
			"ventilador_techo":          75,
		},
		Batteries: []Battery{
			{
				Model:      "EcoFlow DELTA 2",
				CapacityWh: 1024,
				PriceRange: "$999 - $1,199",
				BestFor:    "apartamento",
				Features:   []string{"Portátil", "Recarga por LUMA en 1.2 horas", "Múltiples salidas AC/USB"},
			},
			{
				Model:      "Jackery Explorer 2000 Pro",
				CapacityWh: 2160,
				PriceRange: "$2,199 - $2,499",
				BestFor:    "apartamento",
				Features:   []string{"Ultra portátil", "Carga rápida", "Panel solar opcional"},
			},
			{
				Model:      "BLUETTI AC200P",
				CapacityWh: 2000,
				PriceRange: "$1,799 - $1,999",
				BestFor:    "casa",
				Features:   []string{"Gran capacidad", "Múltiples opciones de carga", "Inversor potente"},
			},
			{
				Model:      "Goal Zero Yeti 3000X",
				CapacityWh: 3032,
				PriceRange: "$3,199 - $3,499",
				BestFor:    "casa",
				Features:   []string{"Alta capacidad", "Expansible", "Compatible con paneles solares"},
			},
			{
				Model:      "EcoFlow DELTA Pro",
				CapacityWh: 3600,
				PriceRange: "$3,599 - $3,999",
				BestFor:    "casa",
				Features:   []string{"Capacidad profesional", "Expandible a 25kWh", "Smart Home Ready"},
			},
			{
				Model:      "Anker PowerHouse 767",
				CapacityWh: 2048,
				PriceRange: "$1,999 - $2,299",
				BestFor:    "ambos",
				Features:   []string{"10 años garantía", "Carga ultra rápida", "App control"},
			},
		},
		Templates: Templates{
			Greeting: "¡Hola! Soy tu especialista en baterías. ¿Cómo puedo ayudarte?",
			Apology:  "Disculpa, estoy teniendo problemas técnicos. Por favor intenta nuevamente en unos momentos.",
		},
	}
}

// LoadProfile reads a YAML business profile and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadProfile(path string) (*Profile, error) {
	profile := DefaultProfile()
	if strings.TrimSpace(path) == "" {
		return profile, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read business profile: %w", err)
	}

	var overlay Profile
	if err := v.Unmarshal(&overlay); err != nil {
		return nil, fmt.Errorf("decode business profile: %w", err)
	}

	if len(overlay.EquipmentWatts) > 0 {
		profile.EquipmentWatts = overlay.EquipmentWatts
	}
	if len(overlay.Batteries) > 0 {
		profile.Batteries = overlay.Batteries
	}
	if strings.TrimSpace(overlay.Templates.Greeting) != "" {
		profile.Templates.Greeting = overlay.Templates.Greeting
	}
	if strings.TrimSpace(overlay.Templates.Apology) != "" {
		profile.Templates.Apology = overlay.Templates.Apology
	}
	return profile, nil
}
