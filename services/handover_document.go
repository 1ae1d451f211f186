package services

import (
	"fmt"
	"strings"
	"time"

	"custody_backend/models"
)

const (
	documentDateLayout = "2006-01-02"
	itemQuantity       = "1 pc"
	noFlagsText        = "Not specified"
)

// DocumentParty сторона акта: передающий или принимающий
type DocumentParty struct {
	PersonID     uint              `json:"person_id"`
	Name         string            `json:"name"`
	Role         models.PersonRole `json:"role"`
	SignatureRef string            `json:"signature_ref"`
}

// DocumentItem строка акта для одного устройства
type DocumentItem struct {
	DeviceID    uint              `json:"device_id"`
	AssetTag    string            `json:"asset_tag"`
	Type        models.DeviceType `json:"type"`
	Description string            `json:"description"`
	SimCardID   string            `json:"sim_card_id,omitempty"`
	PhoneNumber string            `json:"phone_number,omitempty"`
	Quantity    string            `json:"quantity"`
	Condition   string            `json:"condition"`
	CustomFlags string            `json:"custom_flags"`
}

// DocumentPayload снимок данных акта. Хранится в партии для повторной генерации.
type DocumentPayload struct {
	BatchID  uint                  `json:"batch_id"`
	Action   models.HandoverAction `json:"action"`
	Date     string                `json:"date"`
	Location string                `json:"location"`
	Notes    string                `json:"notes"`
	Giver    DocumentParty         `json:"giver"`
	Receiver DocumentParty         `json:"receiver"`
	Items    []DocumentItem        `json:"items"`
	PDAs     []DocumentItem        `json:"pdas"`
	Printers []DocumentItem        `json:"printers"`
}

// Title заголовок акта
func (p *DocumentPayload) Title() string {
	if p.Action == models.HandoverReturn {
		return "Device Return Act"
	}
	return "Device Issue Act"
}

// buildDocumentPayload собирает снимок акта. При выдаче передает диспетчер, при возврате курьер.
func buildDocumentPayload(
	batch *models.HandoverBatch,
	courier, dispatcher *models.Person,
	devices []models.Device,
	flagValues []models.FlagValue,
	location string,
	now time.Time,
) *DocumentPayload {
	courierParty := DocumentParty{
		PersonID:     courier.ID,
		Name:         courier.DisplayName(),
		Role:         courier.Role,
		SignatureRef: batch.CourierSignature,
	}
	dispatcherParty := DocumentParty{
		PersonID:     dispatcher.ID,
		Name:         dispatcher.DisplayName(),
		Role:         dispatcher.Role,
		SignatureRef: batch.DispatcherSignature,
	}

	payload := &DocumentPayload{
		BatchID:  batch.ID,
		Action:   batch.Action,
		Date:     now.Format(documentDateLayout),
		Location: location,
		Notes:    strings.TrimSpace(batch.Notes),
		Items:    []DocumentItem{},
		PDAs:     []DocumentItem{},
		Printers: []DocumentItem{},
	}
	if batch.Action == models.HandoverReturn {
		payload.Giver, payload.Receiver = courierParty, dispatcherParty
	} else {
		payload.Giver, payload.Receiver = dispatcherParty, courierParty
	}

	byDevice := make(map[uint][]models.FlagValue)
	for _, v := range flagValues {
		byDevice[v.DeviceID] = append(byDevice[v.DeviceID], v)
	}

	for i := range devices {
		d := &devices[i]
		item := DocumentItem{
			DeviceID:    d.ID,
			AssetTag:    d.AssetTag,
			Type:        d.Type,
			Description: d.Description,
			Quantity:    itemQuantity,
			Condition:   ConditionSummary(d.Condition()),
			CustomFlags: CustomFlagSummary(byDevice[d.ID]),
		}
		payload.Items = append(payload.Items, item)

		switch d.Type {
		case models.DeviceTypePDA:
			item.SimCardID = d.SimCardID
			item.PhoneNumber = d.PhoneNumber
			payload.PDAs = append(payload.PDAs, item)
		case models.DeviceTypeMobilePrinter:
			payload.Printers = append(payload.Printers, item)
		}
	}

	return payload
}

// ConditionSummary описание встроенных флагов: "Damaged: Yes (note); Faulty: No"
func ConditionSummary(c models.Condition) string {
	return fmt.Sprintf("Damaged: %s; Faulty: %s",
		flagText(c.IsDamaged, c.DamageNote),
		flagText(c.IsFaulty, c.FaultNote))
}

// CustomFlagSummary описание пользовательских признаков или "Not specified"
func CustomFlagSummary(values []models.FlagValue) string {
	if len(values) == 0 {
		return noFlagsText
	}

	parts := make([]string, 0, len(values))
	for _, v := range values {
		name := fmt.Sprintf("Flag #%d", v.FlagID)
		if v.Definition != nil {
			name = v.Definition.Name
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, flagText(v.Value, v.Note)))
	}
	return strings.Join(parts, "; ")
}

// заметка выводится только у выставленного флага
func flagText(value bool, note string) string {
	if !value {
		return "No"
	}
	if note = strings.TrimSpace(note); note != "" {
		return fmt.Sprintf("Yes (%s)", note)
	}
	return "Yes"
}
