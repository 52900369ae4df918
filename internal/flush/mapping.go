package flush

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Provenance is stamped on every record written by this device.
type Provenance struct {
	Source    string
	DeviceID  string
	CreatedBy string
}

// ToRecord maps a queue item to the remote wire shape.
func ToRecord(item types.QueueItem, p Provenance) (types.RemoteRecord, error) {
	full, err := json.Marshal(item.Payload)
	if err != nil {
		return types.RemoteRecord{}, fmt.Errorf("encode payload: %w", err)
	}

	return types.RemoteRecord{
		SubjectID:       item.SubjectID,
		Kind:            string(item.Kind),
		ObservedAt:      item.ObservedAt.UTC().Format(time.RFC3339),
		Temperature:     item.Payload.Temperature,
		SystolicBP:      item.Payload.SystolicBP,
		DiastolicBP:     item.Payload.DiastolicBP,
		Pulse:           item.Payload.Pulse,
		SpO2:            item.Payload.SpO2,
		RespiratoryRate: item.Payload.RespiratoryRate,
		Memo:            item.Payload.Memo,
		Tags:            strings.Join(item.Payload.Tags, ","),
		IdempotencyKey:  item.IdempotencyKey,
		Source:          p.Source,
		LocalTimeZone:   item.LocalTimeZone,
		CreatedBy:       p.CreatedBy,
		DeviceID:        p.DeviceID,
		PayloadJSON:     string(full),
	}, nil
}
