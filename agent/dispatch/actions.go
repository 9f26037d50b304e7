package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	statex "github.com/dmelendez/enerbot/agent/state"
	toolx "github.com/dmelendez/enerbot/agent/tool"
)

// Action names as advertised to the decision step. These mirror the tool
// vocabulary the prompts are written against.
const (
	ActionSendMessage         = "send_message"
	ActionGetContactInfo      = "get_contact_info"
	ActionUpdateContact       = "update_contact"
	ActionGetCalendarSlots    = "get_calendar_slots"
	ActionBookAppointment     = "book_appointment"
	ActionCalculateRuntime    = "calculate_battery_runtime"
	ActionRecommendSystem     = "recommend_battery_system"
	ActionFormatConsultation  = "format_consultation_request"
	ActionUpdateConversation  = "update_conversation_state"
)

const defaultAppointmentMinutes = 30

// NewStandardDispatcher wires the full action registry: delivery, CRM,
// calendar, the pure battery tools, and the slot-extraction action.
func NewStandardDispatcher(
	messenger contractx.Messenger,
	contacts contractx.Contacts,
	calendar contractx.Calendar,
	profile *toolx.Profile,
) (*Dispatcher, error) {
	if messenger == nil {
		return nil, fmt.Errorf("%w: messenger adapter is required", contractx.ErrConfiguration)
	}
	if contacts == nil {
		return nil, fmt.Errorf("%w: contacts adapter is required", contractx.ErrConfiguration)
	}
	if calendar == nil {
		return nil, fmt.Errorf("%w: calendar adapter is required", contractx.ErrConfiguration)
	}
	if profile == nil {
		profile = toolx.DefaultProfile()
	}

	d := New()

	d.MustRegister(Action{
		Name:        ActionSendMessage,
		Description: "Enviar un mensaje al cliente por el canal de la conversación.",
		Parameters: objectSchema(map[string]any{
			"message": map[string]any{"type": "string", "description": "Texto a enviar al cliente"},
		}, "message"),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		text, err := stringArg(inv.Args, "message")
		if err != nil {
			return nil, err
		}
		messageID, err := messenger.Send(ctx, inv.ContactID, text, inv.ConversationID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": messageID}, nil
	})

	d.MustRegister(Action{
		Name:        ActionGetContactInfo,
		Description: "Obtener nombre, email, teléfono y etiquetas del contacto.",
		Parameters:  objectSchema(map[string]any{}),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		return contacts.Get(ctx, inv.ContactID)
	})

	d.MustRegister(Action{
		Name:        ActionUpdateContact,
		Description: "Actualizar campos del contacto en el CRM.",
		Parameters: objectSchema(map[string]any{
			"fields": map[string]any{"type": "object", "description": "Campos a actualizar"},
		}, "fields"),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		fields, err := objectArg(inv.Args, "fields")
		if err != nil {
			return nil, err
		}
		if err := contacts.Update(ctx, inv.ContactID, fields); err != nil {
			return nil, err
		}
		return map[string]any{"updated": true}, nil
	})

	d.MustRegister(Action{
		Name:        ActionGetCalendarSlots,
		Description: "Listar espacios disponibles del calendario para los próximos días.",
		Parameters: objectSchema(map[string]any{
			"days_ahead": map[string]any{"type": "integer", "description": "Ventana en días", "default": 7},
		}),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		days := intArgOr(inv.Args, "days_ahead", 7)
		return calendar.FreeSlots(ctx, days)
	})

	d.MustRegister(Action{
		Name:        ActionBookAppointment,
		Description: "Agendar una cita de orientación para el cliente.",
		Commit:      true,
		Parameters: objectSchema(map[string]any{
			"appointment_datetime": map[string]any{"type": "string", "description": "Inicio en formato RFC3339"},
			"duration_minutes":     map[string]any{"type": "integer", "default": defaultAppointmentMinutes},
			"notes":                map[string]any{"type": "string"},
		}, "appointment_datetime"),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		raw, err := stringArg(inv.Args, "appointment_datetime")
		if err != nil {
			return nil, err
		}
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: appointment_datetime is not RFC3339", contractx.ErrValidation)
		}
		minutes := intArgOr(inv.Args, "duration_minutes", defaultAppointmentMinutes)
		notes, _ := stringArgOr(inv.Args, "notes")

		appointmentID, err := calendar.Book(ctx, contractx.BookingRequest{
			ContactID: inv.ContactID,
			Start:     start,
			End:       start.Add(time.Duration(minutes) * time.Minute),
			Title:     "Orientación de baterías",
			Notes:     notes,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"appointment_id": appointmentID}, nil
	})

	d.MustRegister(Action{
		Name:        ActionCalculateRuntime,
		Description: "Calcular cuántas horas dura una batería con los equipos indicados.",
		Parameters: objectSchema(map[string]any{
			"equipment_list":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"battery_capacity_wh": map[string]any{"type": "number"},
		}, "equipment_list", "battery_capacity_wh"),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		equipment, err := stringListArg(inv.Args, "equipment_list")
		if err != nil {
			return nil, err
		}
		capacity, err := floatArg(inv.Args, "battery_capacity_wh")
		if err != nil {
			return nil, err
		}
		return profile.Runtime(equipment, capacity), nil
	})

	d.MustRegister(Action{
		Name:        ActionRecommendSystem,
		Description: "Recomendar sistemas de batería según vivienda y consumo.",
		Parameters: objectSchema(map[string]any{
			"housing_type":            map[string]any{"type": "string", "enum": []string{"casa", "apartamento"}},
			"total_consumption_watts": map[string]any{"type": "number"},
		}, "housing_type", "total_consumption_watts"),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		housing, err := stringArg(inv.Args, "housing_type")
		if err != nil {
			return nil, err
		}
		load, err := floatArg(inv.Args, "total_consumption_watts")
		if err != nil {
			return nil, err
		}
		return profile.Recommend(housing, load), nil
	})

	d.MustRegister(Action{
		Name:        ActionFormatConsultation,
		Description: "Formatear los datos del cliente para el equipo de orientación.",
		Parameters: objectSchema(map[string]any{
			"name":           map[string]any{"type": "string"},
			"phone":          map[string]any{"type": "string"},
			"email":          map[string]any{"type": "string"},
			"housing_type":   map[string]any{"type": "string"},
			"equipment_list": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, "name", "phone"),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		name, err := stringArg(inv.Args, "name")
		if err != nil {
			return nil, err
		}
		phone, err := stringArg(inv.Args, "phone")
		if err != nil {
			return nil, err
		}
		email, _ := stringArgOr(inv.Args, "email")
		housing, _ := stringArgOr(inv.Args, "housing_type")
		equipment, _ := stringListArgOr(inv.Args, "equipment_list")
		return toolx.FormatConsultation(name, phone, email, housing, equipment), nil
	})

	d.MustRegister(Action{
		Name:        ActionUpdateConversation,
		Description: "Registrar información extraída de la conversación (vivienda, equipos, consumo, interés, contacto).",
		Parameters: objectSchema(map[string]any{
			statex.SlotHousingType:          map[string]any{"type": "string", "enum": []string{"casa", "apartamento"}},
			statex.SlotEquipment:            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			statex.SlotComputedLoad:         map[string]any{"type": "number"},
			statex.SlotBatteryRec:           map[string]any{"type": "string"},
			statex.SlotConsultationInterest: map[string]any{"type": "boolean"},
			statex.SlotName:                 map[string]any{"type": "string"},
			statex.SlotPhone:                map[string]any{"type": "string"},
			statex.SlotEmail:                map[string]any{"type": "string"},
		}),
	}, func(ctx context.Context, inv Invocation) (any, error) {
		if inv.State == nil {
			return nil, fmt.Errorf("%w: no conversation state bound", contractx.ErrValidation)
		}
		if err := inv.State.ApplySlotPatch(inv.Args); err != nil {
			return nil, err
		}
		return map[string]any{"updated_slots": slotKeys(inv.Args)}, nil
	})

	return d, nil
}

func slotKeys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	return keys
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", contractx.ErrValidation, key)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", contractx.ErrValidation, key)
	}
	return strings.TrimSpace(s), nil
}

func stringArgOr(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return strings.TrimSpace(s), ok
}

func objectArg(args map[string]any, key string) (map[string]any, error) {
	raw, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", contractx.ErrValidation, key)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", contractx.ErrValidation, key)
	}
	return obj, nil
}

func floatArg(args map[string]any, key string) (float64, error) {
	raw, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", contractx.ErrValidation, key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s must be numeric", contractx.ErrValidation, key)
	}
}

func intArgOr(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

func stringListArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", contractx.ErrValidation, key)
	}
	return toStringList(key, raw)
}

func stringListArgOr(args map[string]any, key string) ([]string, bool) {
	raw, ok := args[key]
	if !ok {
		return nil, false
	}
	list, err := toStringList(key, raw)
	if err != nil {
		return nil, false
	}
	return list, true
}

func toStringList(key string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings", contractx.ErrValidation, key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", contractx.ErrValidation, key)
	}
}
