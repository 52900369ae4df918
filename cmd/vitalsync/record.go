package main

import (
	"fmt"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/hyperengineering/vitalsync/pkg/vitalsync"
	"github.com/spf13/cobra"
)

var (
	recordKind      string
	recordAt        string
	recordClientID  string
	recordMemo      string
	recordTags      []string
	recordTemp      float64
	recordSystolic  float64
	recordDiastolic float64
	recordPulse     float64
	recordSpO2      float64
	recordResp      float64
)

var recordCmd = &cobra.Command{
	Use:   "record <subject-id>",
	Short: "Queue an observation for the next flush",
	Long:  "Validate an observation and add it to the local write queue. Only the vitals given as flags are recorded; omitted vitals are sent as not measured.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordKind, "kind", string(types.KindObservation), "Kind: observation, seizure-event")
	f.StringVar(&recordAt, "at", "", "Observation time, RFC 3339 (default: now)")
	f.StringVar(&recordClientID, "client-id", "", "Reuse a previous entry's id to retry it without duplicating (requires --at)")
	f.StringVar(&recordMemo, "memo", "", "Free-text note")
	f.StringSliceVar(&recordTags, "tag", nil, "Tag (repeatable)")
	f.Float64Var(&recordTemp, "temp", 0, "Temperature in °C")
	f.Float64Var(&recordSystolic, "systolic", 0, "Systolic blood pressure in mmHg")
	f.Float64Var(&recordDiastolic, "diastolic", 0, "Diastolic blood pressure in mmHg")
	f.Float64Var(&recordPulse, "pulse", 0, "Pulse in beats per minute")
	f.Float64Var(&recordSpO2, "spo2", 0, "Oxygen saturation in percent")
	f.Float64Var(&recordResp, "resp", 0, "Respiratory rate in breaths per minute")
}

func runRecord(cmd *cobra.Command, args []string) error {
	params, err := recordParams(cmd, args[0])
	if err != nil {
		return err
	}

	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	rec, err := client.Record(params)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"idempotency_key": rec.Item.IdempotencyKey,
			"added":           rec.Queue.Added,
			"warned":          rec.Queue.Warned,
			"evicted":         rec.Queue.Evicted,
			"queue_size":      rec.Queue.Size,
		})
	}

	out := cmd.OutOrStdout()
	if rec.Queue.Added {
		fmt.Fprintf(out, "Queued %s (%d pending)\n", rec.Item.IdempotencyKey, rec.Queue.Size)
	} else {
		fmt.Fprintf(out, "Already queued: %s\n", rec.Item.IdempotencyKey)
	}
	for _, key := range rec.Queue.Evicted {
		fmt.Fprintf(out, "Dropped oldest entry to make room: %s\n", key)
	}
	if rec.Queue.Warned {
		fmt.Fprintln(out, "The queue is nearly full. Run 'vitalsync flush' when online.")
	}
	return nil
}

// recordParams builds the observation from flags. Vitals are set only
// when their flag was given.
func recordParams(cmd *cobra.Command, subjectID string) (vitalsync.RecordParams, error) {
	params := vitalsync.RecordParams{
		SubjectID: subjectID,
		Kind:      types.Kind(recordKind),
		ClientID:  recordClientID,
		Payload: types.Payload{
			Memo: recordMemo,
			Tags: recordTags,
		},
	}

	if recordAt != "" {
		at, err := time.Parse(time.RFC3339, recordAt)
		if err != nil {
			return params, fmt.Errorf("invalid --at: %w", err)
		}
		params.ObservedAt = at
	}

	vitals := []struct {
		flag  string
		value float64
		dst   **float64
	}{
		{"temp", recordTemp, &params.Payload.Temperature},
		{"systolic", recordSystolic, &params.Payload.SystolicBP},
		{"diastolic", recordDiastolic, &params.Payload.DiastolicBP},
		{"pulse", recordPulse, &params.Payload.Pulse},
		{"spo2", recordSpO2, &params.Payload.SpO2},
		{"resp", recordResp, &params.Payload.RespiratoryRate},
	}
	for _, v := range vitals {
		if cmd.Flags().Changed(v.flag) {
			value := v.value
			*v.dst = &value
		}
	}
	return params, nil
}
