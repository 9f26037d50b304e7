package tool

import (
	"fmt"
	"sort"
	"strings"
)

// RuntimeReport answers "how long will this battery last with this load".
type RuntimeReport struct {
	TotalConsumptionWatts float64            `json:"total_consumption_watts"`
	EquipmentDetails      []EquipmentDetail  `json:"equipment_details"`
	UnknownEquipment      []string           `json:"unknown_equipment,omitempty"`
	RuntimeHours          float64            `json:"runtime_hours"`
	RuntimeFormatted      string             `json:"runtime_formatted"`
	BatteryCapacityWh     float64            `json:"battery_capacity_wh"`
}

type EquipmentDetail struct {
	Name  string  `json:"name"`
	Watts float64 `json:"watts"`
}

// Runtime sums the wattage of the requested equipment and divides the
// battery capacity by it: Hours = Capacity (Wh) / Load (W).
func (p *Profile) Runtime(equipment []string, capacityWh float64) RuntimeReport {
	report := RuntimeReport{BatteryCapacityWh: capacityWh}

	for _, name := range equipment {
		key := strings.ToLower(strings.TrimSpace(name))
		watts, ok := p.EquipmentWatts[key]
		if !ok {
			report.UnknownEquipment = append(report.UnknownEquipment, name)
			continue
		}
		report.TotalConsumptionWatts += watts
		report.EquipmentDetails = append(report.EquipmentDetails, EquipmentDetail{Name: name, Watts: watts})
	}

	if report.TotalConsumptionWatts > 0 {
		report.RuntimeHours = capacityWh / report.TotalConsumptionWatts
		hours := int(report.RuntimeHours)
		minutes := int((report.RuntimeHours - float64(hours)) * 60)
		report.RuntimeFormatted = fmt.Sprintf("%d horas y %d minutos", hours, minutes)
	} else {
		report.RuntimeFormatted = "No se puede calcular"
	}
	return report
}

// Recommendation is the catalog subset that fits a household's load.
type Recommendation struct {
	HousingType           string              `json:"housing_type"`
	TotalConsumptionWatts float64             `json:"total_consumption_watts"`
	MinimumCapacity6h     float64             `json:"minimum_capacity_6h"`
	MinimumCapacity8h     float64             `json:"minimum_capacity_8h"`
	Options               []RecommendedOption `json:"recommendations"`
	InstallationNotes     []string            `json:"installation_notes"`
}

type RecommendedOption struct {
	Model        string   `json:"model"`
	CapacityWh   float64  `json:"capacity_wh"`
	RuntimeHours float64  `json:"runtime_hours"`
	PriceRange   string   `json:"price_range"`
	Features     []string `json:"features"`
}

// Recommend filters the catalog by housing type and a 6-hour minimum
// autonomy, best runtime first, at most three options.
func (p *Profile) Recommend(housingType string, loadWatts float64) Recommendation {
	housing := strings.ToLower(strings.TrimSpace(housingType))

	rec := Recommendation{
		HousingType:           housing,
		TotalConsumptionWatts: loadWatts,
		MinimumCapacity6h:     loadWatts * 6,
		MinimumCapacity8h:     loadWatts * 8,
	}

	for _, battery := range p.Batteries {
		if battery.BestFor != housing && battery.BestFor != "ambos" {
			continue
		}
		if loadWatts <= 0 || battery.CapacityWh < rec.MinimumCapacity6h {
			continue
		}
		runtime := battery.CapacityWh / loadWatts
		rec.Options = append(rec.Options, RecommendedOption{
			Model:        battery.Model,
			CapacityWh:   battery.CapacityWh,
			RuntimeHours: float64(int(runtime*10)) / 10,
			PriceRange:   battery.PriceRange,
			Features:     battery.Features,
		})
	}

	sort.Slice(rec.Options, func(i, j int) bool {
		return rec.Options[i].RuntimeHours > rec.Options[j].RuntimeHours
	})
	if len(rec.Options) > 3 {
		rec.Options = rec.Options[:3]
	}

	if housing == "apartamento" {
		rec.InstallationNotes = []string{
			"Recomendamos baterías portátiles que se recargan fácilmente con LUMA",
			"No requieren instalación permanente ni permisos",
		}
	} else {
		rec.InstallationNotes = []string{
			"Puede considerar sistema con placas solares para recarga automática",
			"También compatible con generador o conexión a LUMA",
			"Instalación profesional disponible",
		}
	}
	return rec
}

// FormatConsultation renders the handoff note for the consultation team.
func FormatConsultation(name, phone, email, housingType string, equipment []string) string {
	equipmentText := "No especificado"
	if len(equipment) > 0 {
		equipmentText = strings.Join(equipment, ", ")
	}

	return strings.TrimSpace(fmt.Sprintf(`🔋 NUEVA CONSULTA DE BATERÍA

Cliente: %s
Teléfono: %s
Email: %s
Tipo de vivienda: %s
Equipos a energizar: %s

El cliente está interesado en recibir orientación personalizada sobre sistemas de batería.`,
		name, phone, email, housingType, equipmentText))
}
